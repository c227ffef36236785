// Package rpcclient wraps go-ethereum's ethclient with the retry and
// error-classification behaviour the ingestion engines need (spec §4.4,
// §7), grounded on the teacher's internal/rpc client.
package rpcclient

import (
	"context"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// RetryConfig controls the dial/call retry loop shared by every method.
type RetryConfig struct {
	Attempts int
	DelayMS  int
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.DelayMS <= 0 {
		c.DelayMS = 1500
	}
	return c
}

// Client wraps the go-ethereum HTTP client with retry and range-too-large
// classification.
type Client struct {
	*ethclient.Client
	retryCfg RetryConfig
}

// Dial establishes the HTTP JSON-RPC connection with retry.
func Dial(ctx context.Context, url string, retryCfg RetryConfig) (*Client, error) {
	retryCfg = retryCfg.withDefaults()

	var (
		cli *ethclient.Client
		err error
	)
	for attempt := 1; attempt <= retryCfg.Attempts; attempt++ {
		cli, err = ethclient.DialContext(ctx, url)
		if err == nil {
			return &Client{Client: cli, retryCfg: retryCfg}, nil
		}

		logrus.Warnf("RPC dial failed (attempt %d/%d): %v", attempt, retryCfg.Attempts, err)

		if attempt < retryCfg.Attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(retryCfg.DelayMS) * time.Millisecond):
			}
		}
	}
	return nil, err
}

// RangeTooLargeError signals that a getLogs call was rejected because its
// block window was too wide (spec §7); the backfill engine halves the
// window and retries rather than treating this as fatal.
type RangeTooLargeError struct {
	Err error
}

func (e *RangeTooLargeError) Error() string { return e.Err.Error() }
func (e *RangeTooLargeError) Unwrap() error { return e.Err }

// isRangeTooLarge recognizes the handful of phrasings public RPC providers
// use to reject an over-wide eth_getLogs window.
func isRangeTooLarge(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "query returned more than") ||
		strings.Contains(msg, "too many") ||
		strings.Contains(msg, "range too large") ||
		strings.Contains(msg, "block range") && strings.Contains(msg, "large") ||
		strings.Contains(msg, "limit exceeded")
}

// GetLogs fetches logs for a filter query, retrying transient failures and
// classifying range-too-large rejections instead of retrying them blindly
// (the caller is expected to shrink the window and call again).
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var (
		logs []types.Log
		err  error
	)
	for attempt := 1; attempt <= c.retryCfg.Attempts; attempt++ {
		logs, err = c.Client.FilterLogs(ctx, query)
		if err == nil {
			return logs, nil
		}
		if isRangeTooLarge(err) {
			return nil, &RangeTooLargeError{Err: err}
		}

		logrus.Warnf("GetLogs failed (attempt %d/%d): %v", attempt, c.retryCfg.Attempts, err)

		if attempt < c.retryCfg.Attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(c.retryCfg.DelayMS) * time.Millisecond):
			}
		}
	}
	return nil, err
}

// LatestBlockNumber fetches the chain tip via eth_blockNumber with retry.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var (
		num uint64
		err error
	)
	for attempt := 1; attempt <= c.retryCfg.Attempts; attempt++ {
		num, err = c.Client.BlockNumber(ctx)
		if err == nil {
			return num, nil
		}

		logrus.Warnf("LatestBlockNumber failed (attempt %d/%d): %v", attempt, c.retryCfg.Attempts, err)

		if attempt < c.retryCfg.Attempts {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(c.retryCfg.DelayMS) * time.Millisecond):
			}
		}
	}
	return 0, err
}

// GetHeaderByNumber retrieves a header (used for its timestamp) with retry.
// Pass nil to fetch the latest header.
func (c *Client) GetHeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var (
		header *types.Header
		err    error
	)
	for attempt := 1; attempt <= c.retryCfg.Attempts; attempt++ {
		header, err = c.Client.HeaderByNumber(ctx, number)
		if err == nil {
			return header, nil
		}

		logrus.Warnf("GetHeaderByNumber failed (attempt %d/%d): %v", attempt, c.retryCfg.Attempts, err)

		if attempt < c.retryCfg.Attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(c.retryCfg.DelayMS) * time.Millisecond):
			}
		}
	}
	return nil, err
}

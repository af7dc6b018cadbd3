package kv

import "errors"

var (
	ErrEmptyConnectionURL         = errors.New("empty redis connection URL")
	ErrFailedToParseConnectionURL = errors.New("failed to parse redis connection URL")
	ErrRedisNotReady              = errors.New("redis did not become ready within the given time period")
)

package redis

import "errors"

var (
	ErrEmptyConnectionURL           = errors.New("redis url not set")
	ErrFailedToParseRedisConnString = errors.New("invalid redis url")
	ErrRedisNotReady                = errors.New("redis not reachable before connect timeout")
	ErrHealthcheckFailed            = errors.New("redis ping failed")
)

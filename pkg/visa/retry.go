package visa

import (
	"errors"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// withRetries 最多执行 maxAttempts 次 body，重试之间不退避（命令间延时已起到节流作用）。
// retryable 返回 false 的错误立即终止；返回值 attempts 为实际执行次数。
func withRetries[T any](maxAttempts int, retryable func(error) bool, body func(attempt int) (T, error)) (result T, attempts int, err error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	op := func() error {
		attempts++
		v, err := body(attempts)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}
	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(maxAttempts-1))
	err = backoff.Retry(op, b)
	return result, attempts, err
}

// dialBackOff 打开连接时的退避策略，仪器不喜欢被频繁重连
func dialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 3 * time.Second
	b.Reset()
	return b
}

// refused 对端拒绝连接时不再重拨
func refused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

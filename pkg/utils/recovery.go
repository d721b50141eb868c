package utils

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"go.uber.org/zap"
)

// RecoverFn handles a recovered panic.
type RecoverFn func(r interface{}, stack []byte)

// SafeGo runs fn in a goroutine and recovers any panic it raises.
func SafeGo(fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if onPanic != nil {
					onPanic(r, stack)
					return
				}
				if logger.Log != nil {
					logger.Log.Error("[panic] recovered in goroutine", zap.Any("panic", r), zap.ByteString("stack", stack))
					return
				}
				fmt.Fprintf(os.Stderr, "[PANIC] recovered in goroutine: %v\n%s\n", r, stack)
			}
		}()
		fn()
	}()
}

// RecoverWithLog is deferred by long-lived loops (websocket readers, consumers)
// so a panic in one connection does not crash the process.
func RecoverWithLog(ctx context.Context, operation string) {
	if r := recover(); r != nil {
		logger.FromContext(ctx).Error(fmt.Sprintf("[panic] recovered during %s", operation),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}

// WrapWithRecovery converts a panic inside fn into an error.
func WrapWithRecovery(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("[panic] recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	return fn(ctx)
}

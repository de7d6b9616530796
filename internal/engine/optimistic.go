package engine

import "context"

// optimistic 描述一次乐观更新：先 apply，再调用后端，成功 commit，失败 rollback。
// rollback 必须在返回错误之前执行完毕。
type optimistic[T any] struct {
	apply    func()
	call     func(ctx context.Context) (T, error)
	commit   func(T)
	rollback func(error)
}

func runOptimistic[T any](ctx context.Context, op optimistic[T]) (T, error) {
	if op.apply != nil {
		op.apply()
	}
	result, err := op.call(ctx)
	if err != nil {
		if op.rollback != nil {
			op.rollback(err)
		}
		var zero T
		return zero, err
	}
	if op.commit != nil {
		op.commit(result)
	}
	return result, nil
}

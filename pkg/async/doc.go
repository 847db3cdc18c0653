// Package async provides the bounded worker pool used for background
// deliveries.
//
// Tasks run with a per-task timeout. A failing or panicking task is
// logged and does not take its worker down:
//
//	pool := async.NewWorkerPool(ctx, 4, "webhook delivery", 10*time.Second, logger)
//	if err := pool.Submit(task); errors.Is(err, async.ErrPoolClosed) {
//	    // shutting down
//	}
//	_ = pool.Shutdown(5 * time.Second)
package async

// Package shutdown coordinates graceful termination of tokvault-server.
//
// Components register named hooks (HTTP listener, notifier drain, store
// close). On SIGINT, SIGTERM or an explicit Trigger the hooks run in
// reverse registration order under one shared deadline:
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("store", store.Close)
//	h.OnShutdown("http", srv.Shutdown)
//	err := h.Wait(ctx)
package shutdown

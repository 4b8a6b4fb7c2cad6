// Package proxy is the service proxy facade: one adapter per proxied service, called
// only after the gate has authorized and charged the request.
//
//	facade := proxy.NewFacade(10*time.Second, logger, metrics)
//	facade.Register(proxy.NewCache(redisClient))
//	result, err := facade.Invoke(ctx, domain.ServiceCache, userID, proxy.Request{
//		Operation: proxy.OpGet,
//		Params:    map[string]string{"key": "greeting"},
//	})
//
// OpInfo is answered by the facade for every service, configured or not. Adapter
// failures come back as *domain.DownstreamError; rejected input is returned as is.
package proxy

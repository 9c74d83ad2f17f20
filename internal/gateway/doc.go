// Package gateway is the remote data gateway: the narrow request layer that
// turns a collection's CRUD intents into network calls.
//
// Every call answers a Response{Status, Data, StatusText}. Status 200 is the
// sole success discriminant; any other status is failure, and 400 and 500
// are not distinguished. Transport errors (connection refused, expired
// token, cancelled context) are returned as errors and are likewise
// failures. Nothing in this package retries.
//
// Routes:
//
//	GET  {base}/api/{kind}?scope={scope}   list a collection scope
//	POST {base}/api/{kind}/{op}            apply create|update|delete[_many]
//
// Memory is an in-process authoritative backend with the same contract,
// used by tests, the scenario harness and the dev server.
package gateway

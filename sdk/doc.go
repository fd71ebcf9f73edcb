// Package sdk is a convenience wrapper around the Tencent Cloud API client.
//
// It looks services up in a bundled registry of endpoints and API versions,
// builds an authenticated client for one service and region, and retries
// calls that fail because the target resource is busy with another task.
// Signing and the HTTP exchange are delegated to the Tencent Cloud Go SDK.
//
// # Basic Usage
//
//	package main
//
//	import (
//	    "context"
//	    "log"
//
//	    "github.com/birbparty/qcloud-nest/sdk"
//	)
//
//	func main() {
//	    // Credentials come from TENCENTCLOUD_SECRET_ID / TENCENTCLOUD_SECRET_KEY
//	    client, err := sdk.NewClient("cvm", "ap-guangzhou", nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    resp, err := client.Call(context.Background(), "DescribeInstances",
//	        map[string]interface{}{"Limit": 10}, nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    var out struct {
//	        TotalCount int
//	    }
//	    if err := resp.Decode(&out); err != nil {
//	        log.Fatal(err)
//	    }
//	    log.Printf("%d instances (request %s)", out.TotalCount, resp.RequestID)
//	}
//
// # Registry
//
// The bundled registry is parsed once per process by DefaultRegistry. The
// newest file matching endpoints_*.json wins. Load your own snapshots with
// LoadRegistry and pass them through ClientConfig.WithRegistry:
//
//	reg, err := sdk.LoadRegistry(ctx, sdk.NewFSSource(os.DirFS("/etc/qcloud"), "."))
//	cfg := sdk.DefaultClientConfig().WithRegistry(reg).WithVersion("2017-03-12")
//
// # Retries
//
// CallWithRetry repeats calls that fail with "tasks are being processed" or
// "task is working", waiting a fixed delay in between:
//
//	cfg := sdk.DefaultClientConfig().
//	    WithRetryPolicy(sdk.RetryPolicy{MaxRetries: 10, Delay: 3 * time.Second})
//
// Other errors are returned immediately. The wait honours context
// cancellation.
//
// # Error Handling
//
// Every error is an *Error. Use errors.Is with the sentinels:
//
//	switch {
//	case errors.Is(err, sdk.ErrAuthentication):
//	case errors.Is(err, sdk.ErrServiceNotFound):
//	case errors.Is(err, sdk.ErrServer):
//	    log.Printf("request %s failed", sdk.RequestIDOf(err))
//	}
//
// # Logging and Observability
//
// The SDK is silent by default. Pass a logrus logger with WithLogger to see
// call logs, and an Observer with WithObserver for metrics. Every Call opens
// an OpenTelemetry span through the global tracer provider.
package sdk

package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	tcerr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	tchttp "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/http"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
)

// HeaderLanguage selects the language of API messages. The common client
// owns it as a profile setting, so it is applied per client rather than
// forwarded as a header.
const HeaderLanguage = "X-TC-Language"

// builtinHeaders are set by the common client itself and cannot be supplied
// per call. Keys are in canonical form.
var builtinHeaders = map[string]bool{
	http.CanonicalHeaderKey("X-TC-Action"):        true,
	http.CanonicalHeaderKey("X-TC-Version"):       true,
	http.CanonicalHeaderKey("X-TC-Timestamp"):     true,
	http.CanonicalHeaderKey("X-TC-RequestClient"): true,
	http.CanonicalHeaderKey("X-TC-Region"):        true,
	http.CanonicalHeaderKey("X-TC-Token"):         true,
	http.CanonicalHeaderKey("Content-Type"):       true,
}

// tencentTransport sends actions through the Tencent Cloud common client,
// which signs requests and talks to the API endpoint.
type tencentTransport struct {
	module  string
	version string

	credential *common.Credential
	region     string
	profile    *profile.ClientProfile
	roundTrip  http.RoundTripper

	mu      sync.Mutex
	clients map[string]*common.Client // keyed by language
}

// NewTencentTransport is the default TransportFactory.
func NewTencentTransport(cfg *Config, opts *ClientConfig) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cpf := profile.NewClientProfile()
	if host, ok := strings.CutPrefix(cfg.Endpoint, "http://"); ok {
		cpf.HttpProfile.Scheme = "HTTP"
		cpf.HttpProfile.Endpoint = host
	} else {
		cpf.HttpProfile.Endpoint = strings.TrimPrefix(cfg.Endpoint, "https://")
	}
	if opts != nil && opts.Timeout > 0 {
		seconds := int(opts.Timeout / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		cpf.HttpProfile.ReqTimeout = seconds
	}

	t := &tencentTransport{
		module:     cfg.Module,
		version:    cfg.Version,
		credential: common.NewCredential(cfg.SecretID, cfg.SecretKey),
		region:     cfg.Region,
		profile:    cpf,
		clients:    make(map[string]*common.Client),
	}
	if opts != nil && opts.HTTPRetry != nil {
		t.roundTrip = retryingRoundTripper(*opts.HTTPRetry)
	}
	return t, nil
}

// clientFor returns the common client answering in lang, creating it on
// first use. An empty lang means the profile default.
func (t *tencentTransport) clientFor(lang string) *common.Client {
	if lang == "" {
		lang = t.profile.Language
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if client, ok := t.clients[lang]; ok {
		return client
	}

	cpf := *t.profile
	httpProfile := *t.profile.HttpProfile
	cpf.HttpProfile = &httpProfile
	cpf.Language = lang

	client := common.NewCommonClient(t.credential, t.region, &cpf)
	if t.roundTrip != nil {
		client.WithHttpTransport(t.roundTrip)
	}
	t.clients[lang] = client
	return client
}

// splitHeaders separates the language from the forwarded headers and
// rejects headers the common client would otherwise drop.
func splitHeaders(headers map[string]string) (string, map[string]string, error) {
	var lang string
	forwarded := make(map[string]string, len(headers))
	for k, v := range headers {
		canonical := http.CanonicalHeaderKey(k)
		switch {
		case canonical == http.CanonicalHeaderKey(HeaderLanguage):
			lang = v
		case builtinHeaders[canonical]:
			return "", nil, NewClientError("ClientError.InvalidHeader",
				fmt.Sprintf("header %q is set by the client and cannot be overridden", k), nil)
		default:
			forwarded[k] = v
		}
	}
	return lang, forwarded, nil
}

// Call implements Transport
func (t *tencentTransport) Call(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) ([]byte, error) {
	request := tchttp.NewCommonRequest(t.module, t.version, action)
	if err := request.SetActionParameters(params); err != nil {
		return nil, NewClientError("ClientError.InvalidParameter", "failed to encode action parameters", err)
	}
	lang, forwarded, err := splitHeaders(headers)
	if err != nil {
		return nil, err
	}
	if len(forwarded) > 0 {
		request.SetHeader(forwarded)
	}
	request.SetContext(ctx)

	response := tchttp.NewCommonResponse()
	if err := t.clientFor(lang).Send(request, response); err != nil {
		return nil, classifySDKError(err)
	}
	return response.GetBody(), nil
}

// classifySDKError maps errors of the Tencent Cloud SDK onto the error
// taxonomy. The SDK reports local failures (network, encoding, signing) with
// codes prefixed "ClientError."; every other code came from the API.
func classifySDKError(err error) error {
	var sdkErr *tcerr.TencentCloudSDKError
	if errors.As(err, &sdkErr) {
		code := sdkErr.GetCode()
		if strings.HasPrefix(code, "ClientError") {
			return NewClientError(code, sdkErr.GetMessage(), err)
		}
		serverErr := NewServerError(code, sdkErr.GetMessage(), sdkErr.GetRequestId())
		serverErr.wrapped = err
		return serverErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTypeUnknown, "request aborted", err)
	}
	return NewError(ErrorTypeUnknown, fmt.Sprintf("request failed: %T", err), err)
}

// retryingRoundTripper retries the HTTP exchange on connection errors, 429
// and 5xx responses, honouring Retry-After.
func retryingRoundTripper(cfg HTTPRetryConfig) http.RoundTripper {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	if cfg.WaitMin > 0 {
		rc.RetryWaitMin = cfg.WaitMin
	}
	if cfg.WaitMax > 0 {
		rc.RetryWaitMax = cfg.WaitMax
	}
	rc.Logger = nil
	return rc.StandardClient().Transport
}

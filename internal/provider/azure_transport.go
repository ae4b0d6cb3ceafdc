package provider

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"azwebvm/internal/config"
	"azwebvm/internal/logging"
)

// retryLogger routes retryablehttp messages to zap at debug level, except
// errors and warnings.
type retryLogger struct {
	l *zap.SugaredLogger
}

func (r retryLogger) Error(msg string, keysAndValues ...interface{}) {
	r.l.Errorw(msg, keysAndValues...)
}

func (r retryLogger) Info(msg string, keysAndValues ...interface{}) {
	r.l.Debugw(msg, keysAndValues...)
}

func (r retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	r.l.Debugw(msg, keysAndValues...)
}

func (r retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	r.l.Warnw(msg, keysAndValues...)
}

// newHTTPClient builds the client every ARM request goes through. Retries
// happen here; the SDK's own retry policy is switched off by the caller.
func newHTTPClient(cfg config.AzureConfig) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = time.Duration(cfg.RetryWaitMinSec) * time.Second
	rc.RetryWaitMax = time.Duration(cfg.RetryWaitMaxSec) * time.Second
	rc.Logger = retryLogger{l: logging.Component("arm-http").Sugar()}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc.StandardClient()
}

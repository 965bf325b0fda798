package lcbook

import (
	"crypto/tls"
	"math/rand"
	"net/http"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/couchbaselabs/lcbook/internal/log"
	"github.com/couchbaselabs/lcbook/ioloop"
)

// Config carries every option a Handle needs to bootstrap and run. It can
// be built programmatically or parsed from a connection string via
// ParseConnString (connstr.go).
type Config struct {
	Bucket      string
	Auth        AuthProvider
	Authn       Authenticator
	TLSConfig   *tls.Config
	NetworkType string

	Provider ioloop.ReadinessProvider
	Logger   log.Logger
	Tracer   opentracing.Tracer
	Cache    ConfigCache

	ServerConnectTimeout time.Duration
	CccpPollPeriod       time.Duration
	CccpMaxWait          time.Duration
	HTTPRetryDelay       time.Duration
	HTTPRedialPeriod     time.Duration

	// OpTimeout is the default per-Operation deadline used whenever
	// Handle.Submit is called with timeout<=0.
	OpTimeout time.Duration

	// ConfErrThresh/ConfDelayThresh bound a count of network-class errors
	// within a time window that forces an out-of-band topology refresh
	// (scheduler.go).
	ConfErrThresh   uint32
	ConfDelayThresh time.Duration

	// MaxRedirects bounds how many times a single operation may be
	// re-routed in response to NOT_MY_VBUCKET before it is failed outright
	// with ErrTooManyRedirects.
	MaxRedirects uint32

	DurabilityTimeout      time.Duration
	DurabilityPollInterval time.Duration

	CompressionMinSize  int
	CompressionMinRatio float64
	UseCompression      bool
	UseMutationTokens   bool
	UseKvErrorMaps      bool
}

// withDefaults fills in default timing constants for anything the caller
// left zero.
func (c Config) withDefaults() Config {
	if c.ServerConnectTimeout == 0 {
		c.ServerConnectTimeout = 7 * time.Second
	}
	if c.CccpPollPeriod == 0 {
		c.CccpPollPeriod = 2500 * time.Millisecond
	}
	if c.CccpMaxWait == 0 {
		c.CccpMaxWait = 3 * time.Second
	}
	if c.HTTPRetryDelay == 0 {
		c.HTTPRetryDelay = 10 * time.Second
	}
	if c.HTTPRedialPeriod == 0 {
		c.HTTPRedialPeriod = 10 * time.Minute
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 2500 * time.Millisecond
	}
	if c.ConfErrThresh == 0 {
		c.ConfErrThresh = 4
	}
	if c.ConfDelayThresh == 0 {
		c.ConfDelayThresh = 5 * time.Second
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = defaultMaxRedirects
	}
	if c.DurabilityTimeout == 0 {
		c.DurabilityTimeout = DefaultDurabilityTimeout
	}
	if c.DurabilityPollInterval == 0 {
		c.DurabilityPollInterval = DefaultDurabilityPollInterval
	}
	if c.CompressionMinSize == 0 {
		c.CompressionMinSize = 32
	}
	if c.CompressionMinRatio == 0 {
		c.CompressionMinRatio = 0.83
	}
	if c.Logger == nil {
		c.Logger = log.Nop
	}
	if c.Provider == nil {
		c.Provider = ioloop.New()
	}
	return c
}

// ConfigCache is a plug point a Handle calls at bootstrap/update time to
// persist or recall the last-known topology, so a restart can skip the
// initial CCCP/HTTP round trip. The core ships no concrete file-backed
// implementation — callers that want one provide it.
type ConfigCache interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// bootstrapper drives the initial topology fetch and the two background
// refresh loopers (CCCP and HTTP streaming), kept separate from Handle so
// Handle's own job stays narrow: own the Router, accept Submits.
type bootstrapper struct {
	cfg    Config
	router *Router

	httpCli *http.Client

	closeNotify chan struct{}
	cccpDone    chan struct{}
	httpDone    chan struct{}

	// looperDone is whichever of cccpDone/httpDone Bootstrap actually
	// started, so Close knows which one to wait on — the other never
	// closes since its looper never ran.
	looperDone chan struct{}
}

func newBootstrapper(cfg Config, router *Router) *bootstrapper {
	return &bootstrapper{
		cfg:         cfg,
		router:      router,
		httpCli:     &http.Client{},
		closeNotify: make(chan struct{}),
		cccpDone:    make(chan struct{}),
		httpDone:    make(chan struct{}),
	}
}

// Bootstrap connects to one of seedHosts, fetches the initial cluster
// configuration (preferring CCCP when the node supports it, falling back
// to HTTP streaming), installs it on the Router, and starts whichever
// looper matches the transport that produced the working config.
func (b *bootstrapper) Bootstrap(seedHosts []string) error {
	if len(seedHosts) == 0 {
		return ErrBadHosts
	}

	shuffled := append([]string(nil), seedHosts...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	cfg, sourceHost, viaCccp, err := b.bootstrapCccp(shuffled)
	if err != nil {
		cfg, sourceHost, err = b.bootstrapHTTP(shuffled)
		if err != nil {
			return errors.Wrapf(ErrBootstrapFailed, "tried %d seed hosts", len(shuffled))
		}
		viaCccp = false
	}

	routeCfg := buildRouteConfig(cfg, b.cfg.TLSConfig != nil, b.cfg.NetworkType)
	if !routeCfg.IsValid() {
		return errors.Wrapf(ErrBootstrapFailed, "configuration from %s produced no usable routing", sourceHost)
	}
	b.router.ApplyConfig(routeCfg)

	if b.cfg.Cache != nil {
		if raw, encErr := reencodeConfig(cfg); encErr == nil {
			b.cfg.Cache.Save(raw)
		}
	}

	b.cfg.Logger.Debugf("lcbook: bootstrapped from %s (cccp=%v)", sourceHost, viaCccp)

	if viaCccp {
		b.looperDone = b.cccpDone
		go b.cccpLoop()
	} else {
		b.looperDone = b.httpDone
		go b.httpLoop()
	}
	return nil
}

// Close stops the background looper and waits for it to exit.
func (b *bootstrapper) Close() {
	close(b.closeNotify)
	if b.looperDone != nil {
		<-b.looperDone
	}
}

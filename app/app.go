// Package app assembles a complete mindease client from configuration: the
// record store, the document store, avatar storage, the durable cache, the
// identity provider, the event bus, metrics, the session manager and support
// tickets.
//
//	a, err := app.New(ctx)
//	if err != nil {
//	    return err
//	}
//	defer a.Close(ctx)
//	err = a.Session.Login(ctx, email, password)
//
// Every component can be replaced with an option, which is how tests run the
// whole stack in memory.
package app

import (
	"context"
	"io"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/mindease/mindease/cache"
	"github.com/mindease/mindease/config"
	"github.com/mindease/mindease/docstore"
	"github.com/mindease/mindease/docstore/firestore"
	"github.com/mindease/mindease/email"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/eventbus/membus"
	"github.com/mindease/mindease/identity"
	"github.com/mindease/mindease/identity/google"
	"github.com/mindease/mindease/identity/local"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/metrics"
	"github.com/mindease/mindease/netstatus"
	"github.com/mindease/mindease/objectstore"
	"github.com/mindease/mindease/objectstore/firebasestorage"
	"github.com/mindease/mindease/profile"
	"github.com/mindease/mindease/session"
	"github.com/mindease/mindease/storage"
	"github.com/mindease/mindease/storage/memorystore"
	"github.com/mindease/mindease/storage/postgres"
	"github.com/mindease/mindease/storage/sqlitestore"
	"github.com/mindease/mindease/tickets"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// ErrUnknownDriver is returned for unsupported driver names in config.
var ErrUnknownDriver = errors.NewC("app: unknown driver", codes.InvalidArgument)

// Option replaces a component that would otherwise be built from config.
type Option func(*App)

// WithLogger sets the logger attached to every context the app creates.
func WithLogger(l logging.Logger) Option {
	return func(a *App) {
		a.Logger = l
	}
}

// WithStore sets the record store.
func WithStore(s storage.Store) Option {
	return func(a *App) {
		a.Store = s
	}
}

// WithDocuments sets the document store.
func WithDocuments(d docstore.Store) Option {
	return func(a *App) {
		a.Documents = d
	}
}

// WithObjects sets the avatar backend.
func WithObjects(b objectstore.Backend) Option {
	return func(a *App) {
		a.Objects = b
	}
}

// WithCache sets the durable cache.
func WithCache(c cache.Cache) Option {
	return func(a *App) {
		a.Cache = c
	}
}

// WithProvider sets the identity provider.
func WithProvider(p identity.Provider) Option {
	return func(a *App) {
		a.Provider = p
	}
}

// WithRegisterer registers metrics with reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		a.registerer = reg
	}
}

// WithBrowser sets how the Google consent page is shown. The default logs the
// URL.
func WithBrowser(open func(authURL string) error) Option {
	return func(a *App) {
		a.openBrowser = open
	}
}

// WithProbe overrides the connectivity probe built from network.probeURL.
func WithProbe(p netstatus.Probe) Option {
	return func(a *App) {
		a.probe = p
	}
}

// WithSessionOptions passes extra options to the session manager.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) {
		a.sessionOpts = append(a.sessionOpts, opts...)
	}
}

// WithIdentityOptions passes extra options to the local identity provider.
func WithIdentityOptions(opts ...local.Option) Option {
	return func(a *App) {
		a.identityOpts = append(a.identityOpts, opts...)
	}
}

// WithTicketOptions passes extra options to the ticket service.
func WithTicketOptions(opts ...tickets.Option) Option {
	return func(a *App) {
		a.ticketOpts = append(a.ticketOpts, opts...)
	}
}

// App holds the assembled components.
type App struct {
	Logger    logging.Logger
	Store     storage.Store
	Documents docstore.Store
	Objects   objectstore.Backend
	Cache     cache.Cache
	Provider  identity.Provider
	Profiles  *profile.Repository
	Bus       *membus.Bus
	Metrics   *metrics.Session
	Session   *session.Manager
	Tickets   *tickets.Service
	Network   *netstatus.Monitor

	registerer   prometheus.Registerer
	openBrowser  func(string) error
	probe        netstatus.Probe
	sessionOpts  []session.Option
	ticketOpts   []tickets.Option
	identityOpts []local.Option

	firebase *firebase.App
	closers  []io.Closer
	stop     context.CancelFunc
}

// New builds every component, restores the persisted session and starts the
// connectivity monitor when one is configured. Close releases everything.
func New(ctx context.Context, opts ...Option) (*App, error) {
	config.EnsureDefaults()
	a := &App{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(a)
	}
	if a.Logger == nil {
		a.Logger = logging.New(config.String("logging.mode"))
	}
	ctx = logging.With(ctx, a.Logger)

	if err := a.build(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := a.start(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	if a.Store == nil {
		if a.Store, err = a.openStore(ctx, config.String("storage.driver")); err != nil {
			return err
		}
	}
	if a.Cache == nil {
		if a.Cache, err = a.openCache(config.String("cache.path")); err != nil {
			return err
		}
	}
	if a.Documents == nil {
		if a.Documents, err = a.openDocuments(ctx, config.String("documents.driver")); err != nil {
			return err
		}
	}
	if a.Objects == nil {
		if a.Objects, err = a.openObjects(ctx, config.String("objects.driver")); err != nil {
			return err
		}
	}
	if a.Provider == nil {
		if a.Provider, err = a.openProvider(ctx); err != nil {
			return err
		}
	}

	a.Bus = membus.New(context.WithoutCancel(ctx))
	a.subscribeActivity()
	a.Metrics = metrics.New(a.registerer)
	a.Profiles = profile.NewRepository(a.Documents)

	a.Tickets, err = tickets.New(ctx, a.Store, append([]tickets.Option{
		tickets.WithEventBus(a.Bus),
		tickets.WithMetrics(a.Metrics),
		tickets.WithRoles(a.Profiles),
	}, a.ticketOpts...)...)
	if err != nil {
		return err
	}

	if a.probe == nil {
		if u := config.String("network.probeURL"); u != "" {
			a.probe = netstatus.HTTPProbe(u, 5*time.Second)
		}
	}
	online := true
	if a.probe != nil {
		online = a.probe(ctx)
	}

	a.Session = session.New(a.Provider, a.Profiles, a.Objects, a.Cache, append([]session.Option{
		session.WithEventBus(a.Bus),
		session.WithMetrics(a.Metrics),
		session.WithOnline(online),
	}, a.sessionOpts...)...)

	if a.probe != nil {
		a.Network = &netstatus.Monitor{
			Probe:    a.probe,
			Interval: config.Duration("network.probeInterval"),
			Initial:  online,
			OnChange: func(ctx context.Context, online bool) {
				if err := a.Session.SetOnline(ctx, online); err != nil {
					logging.Warnw(ctx, "app: network transition failed", "online", online, "error", err)
				}
			},
		}
	}
	return nil
}

func (a *App) start(ctx context.Context) error {
	if err := a.Session.Initialize(ctx); err != nil {
		return err
	}
	if a.Network != nil {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.stop = cancel
		go func() {
			if err := a.Network.Run(runCtx); err != nil {
				logging.Errorw(runCtx, "app: network monitor failed", "error", err)
			}
		}()
	}
	logging.Infow(ctx, "app: started",
		"storage", config.String("storage.driver"),
		"documents", config.String("documents.driver"),
		"objects", config.String("objects.driver"),
		"online", a.Session.State().IsOnline)
	return nil
}

// Context returns ctx with the app's logger attached.
func (a *App) Context(ctx context.Context) context.Context {
	return logging.With(ctx, a.Logger)
}

// Actor describes the signed in user for the ticket service.
func (a *App) Actor() tickets.Actor {
	s := a.Session.State()
	if s.Identity == nil {
		return tickets.Actor{}
	}
	return tickets.Actor{
		UID:      s.Identity.Subject,
		Email:    s.Identity.Email,
		IsAdmin:  s.IsAdmin,
		IsBanned: s.IsBanned,
	}
}

// Close stops background work, drains the bus and releases storage.
func (a *App) Close(ctx context.Context) error {
	ctx = logging.With(ctx, a.Logger)
	if a.stop != nil {
		a.stop()
	}
	if a.Session != nil {
		a.Session.Close()
	}
	var errs []error
	if a.Bus != nil {
		if err := a.Bus.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		logging.Errorw(ctx, "app: close failed", "error", err)
		return err
	}
	return nil
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

func (a *App) openStore(ctx context.Context, driver string) (storage.Store, error) {
	var (
		s   storage.Store
		err error
	)
	switch driver {
	case "memory":
		s = memorystore.New()
	case "sqlite":
		s, err = sqlitestore.New(config.String("storage.sqlite.path"))
	case "postgres":
		s, err = postgres.New(ctx, config.String("storage.postgres.dsn"))
	default:
		return nil, errors.Mark(ErrUnknownDriver, 0).Append("storage.driver " + driver)
	}
	if err != nil {
		return nil, err
	}
	a.track(s)
	return s, nil
}

// openCache keeps the cache in its own sqlite file so that it survives a
// switch of storage driver. An empty path keeps it in memory.
func (a *App) openCache(path string) (cache.Cache, error) {
	if path == "" {
		return cache.New(memorystore.New()), nil
	}
	s, err := sqlitestore.New(path, sqlitestore.WithPrefix("cache_"))
	if err != nil {
		return nil, err
	}
	a.track(s)
	return cache.New(s), nil
}

func (a *App) openDocuments(ctx context.Context, driver string) (docstore.Store, error) {
	switch driver {
	case "storage":
		return docstore.New(a.Store), nil
	case "firestore":
		fb, err := a.firebaseApp(ctx)
		if err != nil {
			return nil, err
		}
		client, err := fb.Firestore(ctx)
		if err != nil {
			return nil, errors.WrapPrefix(err, "app: firestore client", 0)
		}
		a.track(client)
		return firestore.New(client), nil
	}
	return nil, errors.Mark(ErrUnknownDriver, 0).Append("documents.driver " + driver)
}

func (a *App) openObjects(ctx context.Context, driver string) (objectstore.Backend, error) {
	switch driver {
	case "memory":
		return objectstore.NewMemBackend(), nil
	case "fs":
		return objectstore.NewFSBackend(config.String("objects.fs.root"), config.String("objects.fs.baseURL")), nil
	case "firebase":
		fb, err := a.firebaseApp(ctx)
		if err != nil {
			return nil, err
		}
		return firebasestorage.FromApp(ctx, fb, config.String("firebase.storageBucket"))
	}
	return nil, errors.Mark(ErrUnknownDriver, 0).Append("objects.driver " + driver)
}

func (a *App) firebaseApp(ctx context.Context) (*firebase.App, error) {
	if a.firebase != nil {
		return a.firebase, nil
	}
	cfg := &firebase.Config{
		ProjectID:     config.String("firebase.projectId"),
		StorageBucket: config.String("firebase.storageBucket"),
	}
	var opts []option.ClientOption
	if f := config.String("firebase.credentialsFile"); f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	fb, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, errors.WrapPrefix(err, "app: firebase", 0)
	}
	a.firebase = fb
	return fb, nil
}

func (a *App) openProvider(ctx context.Context) (identity.Provider, error) {
	opts := []local.Option{}
	if config.String("email.smtp.host") != "" {
		opts = append(opts, local.WithMailer(email.New()))
	}
	if google.Configured() {
		open := a.openBrowser
		if open == nil {
			open = func(authURL string) error {
				logging.Infow(ctx, "app: open this address to sign in with Google", "url", authURL)
				return nil
			}
		}
		popup, err := google.NewLoopbackPopup(open)
		if err != nil {
			return nil, err
		}
		a.track(popup)
		auth, err := google.New(google.WithPopup(popup))
		if err != nil {
			return nil, err
		}
		opts = append(opts, local.WithInteractive(auth))
	}
	return local.New(ctx, a.Store, a.Cache, append(opts, a.identityOpts...)...)
}

package ops

import (
	"bytes"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	logx "checktime/pkg/logx"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

const statusCacheTTL = 2 * time.Second

func init() { gin.SetMode(gin.ReleaseMode) }

// engine builds the router for one server generation.
func (s *Service) engine(cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.log.Error("ops handler panic", logx.Any("panic", rec), logx.String("path", c.Request.URL.Path))
		c.AbortWithStatus(http.StatusInternalServerError)
	}))
	r.Use(requestLog(s.log))

	auth := bearerAuth(cfg.Token)
	r.GET("/healthz", auth, s.healthz)

	statusCache := cache.New(statusCacheTTL, 4*statusCacheTTL)
	r.GET("/status", auth, cached(statusCache, statusCacheTTL), s.status)

	r.Any("/debug/pprof/*name", auth, pprofHandler)
	return r
}

// pprof.Index serves the named profiles itself; it needs the path rooted
// at /debug/pprof/.
func pprofHandler(c *gin.Context) {
	switch strings.TrimPrefix(c.Param("name"), "/") {
	case "cmdline":
		pprof.Cmdline(c.Writer, c.Request)
	case "profile":
		pprof.Profile(c.Writer, c.Request)
	case "symbol":
		pprof.Symbol(c.Writer, c.Request)
	case "trace":
		pprof.Trace(c.Writer, c.Request)
	default:
		pprof.Index(c.Writer, c.Request)
	}
}

func (s *Service) healthz(c *gin.Context) {
	if s.src.Stopping != nil && s.src.Stopping() {
		c.String(http.StatusServiceUnavailable, "stopping")
		return
	}
	c.String(http.StatusOK, "ok")
}

type statusDoc struct {
	Time     time.Time `json:"time"`
	Uptime   string    `json:"uptime"`
	Tick     any       `json:"tick,omitempty"`
	Dispatch any       `json:"dispatch,omitempty"`
	Notifier any       `json:"notifier,omitempty"`
}

func (s *Service) status(c *gin.Context) {
	doc := statusDoc{Time: time.Now(), Uptime: time.Since(s.started).Truncate(time.Second).String()}
	if s.src.Tick != nil {
		doc.Tick = s.src.Tick.Snapshot()
	}
	if s.src.Dispatch != nil {
		doc.Dispatch = s.src.Dispatch.Snapshot()
	}
	if s.src.Notifier != nil {
		doc.Notifier = s.src.Notifier.Snapshot()
	}
	c.JSON(http.StatusOK, doc)
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		if got := c.Query("token"); got != "" && got == tok {
			c.Next()
			return
		}
		const p = "Bearer "
		if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("ops request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	}
}

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyCacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// cached serves successful GET responses from store for ttl.
func cached(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		key := c.Request.URL.Path
		if v, ok := store.Get(key); ok {
			resp := v.(cachedResponse)
			for k, vals := range resp.headers {
				c.Writer.Header()[k] = vals
			}
			c.Writer.Header().Set("X-Cache", "hit")
			c.Writer.WriteHeader(resp.status)
			_, _ = c.Writer.Write(resp.body)
			c.Abort()
			return
		}

		w := &bodyCacheWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if st := w.Status(); st >= 200 && st < 300 {
			store.Set(key, cachedResponse{status: st, headers: w.Header().Clone(), body: w.body.Bytes()}, ttl)
		}
	}
}

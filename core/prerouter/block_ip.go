package prerouter

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/caasmo/acmebigip/core"
	"github.com/caasmo/acmebigip/topk"
)

const (
	blockingDuration  = 3 * time.Minute // Default blocking duration
	defaultBlockCost  = 1               // Default cost for blocked IP entries
	bucketDurationSec = 3600            // 1 hour buckets
)

// sketchPresets mirrors cache/ristretto's Level-keyed sizing presets: a
// small deployment doesn't need the memory a high-traffic one does to keep
// its false-positive rate low.
var sketchPresets = map[string]topk.SketchParams{
	"low":    {K: 32, WindowSize: 3, Width: 256, Depth: 2, TickSize: 50},
	"medium": {K: 128, WindowSize: 3, Width: 1024, Depth: 3, TickSize: 100},
	"high":   {K: 512, WindowSize: 5, Width: 4096, Depth: 4, TickSize: 200},
}

// GetClientIP returns the normalized IP address from the request.
func GetClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return ip
}

// getTimeBucket returns the bucket number for a given time (periods since Unix epoch).
func getTimeBucket(t time.Time) int64 {
	return t.Unix() / bucketDurationSec
}

// formatBlockKey creates a consistent cache key for blocked IPs.
func formatBlockKey(ip string, bucket int64) string {
	return fmt.Sprintf("%s|%d", ip, bucket)
}

// BlockIp implements IP abuse blocking using the app's cache for storage and
// a TopK sketch for detection, gated by config.BlockIp.
type BlockIp struct {
	app    *core.App
	sketch *topk.TopKSketch
}

// NewBlockIp creates a BlockIp middleware sized from the app's current
// BlockIp.Level, falling back to the "medium" preset for an unrecognized or
// empty level.
func NewBlockIp(app *core.App) *BlockIp {
	cfg := app.Config().BlockIp
	params, ok := sketchPresets[cfg.Level]
	if !ok {
		params = sketchPresets["medium"]
	}
	params.ActivationRPS = cfg.ActivationRPS
	params.MaxSharePercent = cfg.MaxSharePercent

	return &BlockIp{
		app:    app,
		sketch: topk.New(params),
	}
}

func (b *BlockIp) Execute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		ip := GetClientIP(r)

		if b.IsBlocked(ip) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if err := b.Process(ip); err != nil {
			b.app.Logger().Error("error processing IP in blocker", "ip", ip, "error", err)
		}

		next.ServeHTTP(w, r)
	})
}

// IsEnabled reports whether IP blocking is active per the current config snapshot.
func (b *BlockIp) IsEnabled() bool {
	return b.app.Config().BlockIp.Enabled
}

// IsBlocked checks if a given IP address is currently blocked by looking in the cache.
func (b *BlockIp) IsBlocked(ip string) bool {
	currentBucket := getTimeBucket(time.Now())
	key := formatBlockKey(ip, currentBucket)
	_, found := b.app.Cache().Get(key)
	return found
}

// Block adds the given IP to the block list, covering both the current and
// (if the remaining time in it is short) the next hour bucket so a block
// issued near a bucket boundary doesn't expire early.
func (b *BlockIp) Block(ip string) error {
	now := time.Now()
	currentBucket := getTimeBucket(now)
	nextBucket := currentBucket + 1

	currentKey := formatBlockKey(ip, currentBucket)
	if !b.app.Cache().SetWithTTL(currentKey, true, defaultBlockCost, blockingDuration) {
		return fmt.Errorf("failed to block IP %s in current bucket %d", ip, currentBucket)
	}
	b.app.Logger().Info("IP blocked", "ip", ip, "bucket", currentBucket, "duration", blockingDuration)

	nowUnix := now.Unix()
	timeUntilNextBucket := (nextBucket * bucketDurationSec) - nowUnix
	ttlNext := blockingDuration - time.Duration(timeUntilNextBucket)*time.Second

	if ttlNext > 0 {
		nextKey := formatBlockKey(ip, nextBucket)
		if !b.app.Cache().SetWithTTL(nextKey, true, defaultBlockCost, ttlNext) {
			return fmt.Errorf("failed to block IP %s in next bucket %d", ip, nextBucket)
		}
		b.app.Logger().Info("IP blocked", "ip", ip, "bucket", nextBucket, "duration", ttlNext)
	}

	return nil
}

// Process passes the IP to the underlying TopK sketch for tracking. Any IPs
// the sketch flags as exceeding their share of the window are blocked
// asynchronously so the request that triggered the tick isn't delayed.
func (b *BlockIp) Process(ip string) error {
	blockedIPs := b.sketch.ProcessTick(ip)

	if len(blockedIPs) > 0 {
		b.app.Logger().Info("IPs to be blocked", "ips", blockedIPs)
		go func(ips []string) {
			for _, ip := range ips {
				if err := b.Block(ip); err != nil {
					b.app.Logger().Error("failed to block IP", "ip", ip, "error", err)
				}
			}
		}(blockedIPs)
	}

	return nil
}

package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"
	"os"
	"runtime"
	"strings"
	"time"
)

// FingerprintDigest is the lowercase hex SHA-256 of the machine attributes.
// It is a deterrent against casual license copying, not a security boundary:
// every input can be spoofed by a determined user.
type FingerprintDigest string

// DigestLength is the fixed width of a FingerprintDigest
const DigestLength = 64

// Valid reports whether d has the fixed digest shape
func (d FingerprintDigest) Valid() bool {
	if len(d) != DigestLength {
		return false
	}
	for _, c := range d {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Short returns the prefix used in logs and audit events
func (d FingerprintDigest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}

func (d FingerprintDigest) String() string { return string(d) }

// Source is one machine attribute feeding the fingerprint
type Source struct {
	Name    string
	Collect func() (string, error)
}

// FingerprintManager derives the machine fingerprint. Results are never
// cached; Compute reads every source again.
type FingerprintManager struct {
	sources []Source
	logger  *slog.Logger
}

// FingerprintOption configures a FingerprintManager
type FingerprintOption func(*FingerprintManager)

// WithSources replaces the default attribute sources
func WithSources(sources ...Source) FingerprintOption {
	return func(fm *FingerprintManager) {
		fm.sources = sources
	}
}

// WithFingerprintLogger sets the logger
func WithFingerprintLogger(logger *slog.Logger) FingerprintOption {
	return func(fm *FingerprintManager) {
		fm.logger = logger
	}
}

// NewFingerprintManager creates a fingerprint manager with the default sources
func NewFingerprintManager(opts ...FingerprintOption) *FingerprintManager {
	fm := &FingerprintManager{logger: slog.Default()}
	fm.sources = []Source{
		{Name: "platform", Collect: fm.GetPlatform},
		{Name: "locale", Collect: fm.GetLocale},
		{Name: "timezone", Collect: fm.GetTimezone},
		{Name: "host", Collect: fm.GetHostname},
		{Name: "cpu", Collect: fm.GetCPUID},
		{Name: "render", Collect: fm.GetRenderEntropy},
	}
	for _, opt := range opts {
		opt(fm)
	}
	return fm
}

// Compute returns the digest of all sources. A failing source contributes
// its placeholder value, so Compute never fails.
func (fm *FingerprintManager) Compute() FingerprintDigest {
	start := time.Now()

	factors := make([]string, 0, len(fm.sources))
	for _, src := range fm.sources {
		factors = append(factors, fm.collect(src))
	}

	hash := sha256.Sum256([]byte(strings.Join(factors, "|")))
	digest := FingerprintDigest(hex.EncodeToString(hash[:]))

	fm.logger.Debug("Device fingerprint computed",
		slog.String("fingerprint_prefix", digest.Short()),
		slog.Int("sources", len(fm.sources)),
		slog.Duration("generation_time", time.Since(start)),
	)

	return digest
}

// Components returns the raw attribute values for diagnostics
func (fm *FingerprintManager) Components() map[string]string {
	components := make(map[string]string, len(fm.sources))
	for _, src := range fm.sources {
		components[src.Name] = fm.collect(src)
	}
	return components
}

// collect runs one source, recovering panics into the placeholder
func (fm *FingerprintManager) collect(src Source) (value string) {
	placeholder := "unknown-" + src.Name
	defer func() {
		if r := recover(); r != nil {
			fm.logger.Warn("Fingerprint source panicked, using fallback",
				slog.String("source", src.Name),
				slog.Any("panic", r),
			)
			value = placeholder
		}
	}()

	v, err := src.Collect()
	if err != nil || strings.TrimSpace(v) == "" {
		attrs := []any{slog.String("source", src.Name)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		fm.logger.Warn("Fingerprint source unavailable, using fallback", attrs...)
		return placeholder
	}
	return v
}

// GetPlatform returns the OS and architecture
func (fm *FingerprintManager) GetPlatform() (string, error) {
	return runtime.GOOS + "/" + runtime.GOARCH, nil
}

// GetLocale returns the normalised process locale
func (fm *FingerprintManager) GetLocale() (string, error) {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			return normalizeLocale(v), nil
		}
	}
	return "", fmt.Errorf("no locale configured")
}

// normalizeLocale strips encoding and modifier: "en_US.UTF-8@euro" -> "en-us"
func normalizeLocale(v string) string {
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.ReplaceAll(v, "_", "-"))
}

// referenceDate pins the offset lookup so daylight saving does not change it
var referenceDate = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

// Zone name sources, in order after $TZ
var (
	timezoneFile  = "/etc/timezone"
	localtimeLink = "/etc/localtime"
)

// GetTimezone returns the configured IANA zone name, when one can be found,
// and the local offset at a fixed date. time.Local names itself "Local"
// on most hosts, so the name is looked up where the OS keeps it.
func (fm *FingerprintManager) GetTimezone() (string, error) {
	_, offset := referenceDate.In(time.Local).Zone()
	return fmt.Sprintf("%s%+d", zoneName(), offset/60), nil
}

func zoneName() string {
	if tz := strings.TrimPrefix(strings.TrimSpace(os.Getenv("TZ")), ":"); tz != "" {
		return tz
	}
	if data, err := os.ReadFile(timezoneFile); err == nil {
		if name := strings.TrimSpace(string(data)); name != "" {
			return name
		}
	}
	if target, err := os.Readlink(localtimeLink); err == nil {
		if i := strings.Index(target, "zoneinfo/"); i >= 0 {
			return target[i+len("zoneinfo/"):]
		}
	}
	if name := time.Local.String(); name != "Local" {
		return name
	}
	return ""
}

// GetHostname retrieves the machine hostname
func (fm *FingerprintManager) GetHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}

	return hostname, nil
}

// GetCPUID retrieves CPU identification information (OS-specific)
func (fm *FingerprintManager) GetCPUID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return fm.getCPUIDWindows()
	case "linux":
		return fm.getCPUIDLinux()
	case "darwin":
		return fm.getCPUIDDarwin()
	default:
		return shortHash(fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)), nil
	}
}

// getCPUIDWindows gets CPU information on Windows systems
func (fm *FingerprintManager) getCPUIDWindows() (string, error) {
	if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
		return shortHash(procID), nil
	}
	return shortHash(fmt.Sprintf("windows-%s-%s", runtime.GOARCH, os.Getenv("PROCESSOR_ARCHITECTURE"))), nil
}

// getCPUIDLinux gets CPU information on Linux systems
func (fm *FingerprintManager) getCPUIDLinux() (string, error) {
	cpuData, err := os.ReadFile("/proc/cpuinfo")
	if err == nil {
		// model name is stable across reboots; the first line wins
		for _, line := range strings.Split(string(cpuData), "\n") {
			if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "cpu family") {
				return shortHash(line), nil
			}
		}
	}
	return shortHash("linux-" + runtime.GOARCH), nil
}

// getCPUIDDarwin gets CPU information on macOS systems
func (fm *FingerprintManager) getCPUIDDarwin() (string, error) {
	cpuInfo := "darwin-" + runtime.GOARCH
	if procType := os.Getenv("HOSTTYPE"); procType != "" {
		cpuInfo += "-" + procType
	}
	return shortHash(cpuInfo), nil
}

// GetRenderEntropy rasterises a small fixed scene and hashes the pixels.
// Floating point and compositing differences between builds and CPUs
// surface as different pixel bytes.
func (fm *FingerprintManager) GetRenderEntropy() (string, error) {
	const w, h = 64, 32
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	// background gradient
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t := float64(x)/float64(w-1)*0.7 + float64(y)/float64(h-1)*0.3
			img.Set(x, y, color.RGBA{
				R: uint8(255 * t),
				G: uint8(255 * (1 - t) * math.Sin(t*math.Pi/2+0.3)),
				B: uint8(128 + 127*math.Cos(t*math.Pi*1.7)),
				A: 255,
			})
		}
	}

	// anti-aliased arcs composited with alpha masks
	arcs := []struct {
		cx, cy, r, width float64
		c                color.RGBA
	}{
		{20.5, 16.25, 11.3, 2.2, color.RGBA{R: 250, G: 120, B: 30, A: 255}},
		{41.75, 13.5, 8.6, 1.4, color.RGBA{R: 40, G: 200, B: 180, A: 255}},
		{33.1, 22.9, 15.2, 0.9, color.RGBA{R: 230, G: 230, B: 60, A: 255}},
	}
	for _, a := range arcs {
		mask := image.NewAlpha(img.Bounds())
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				d := math.Hypot(float64(x)+0.5-a.cx, float64(y)+0.5-a.cy)
				cover := 1 - math.Abs(d-a.r)/a.width
				if cover > 0 {
					mask.SetAlpha(x, y, color.Alpha{A: uint8(math.Min(1, cover) * 200)})
				}
			}
		}
		draw.DrawMask(img, img.Bounds(), image.NewUniform(a.c), image.Point{}, mask, image.Point{}, draw.Over)
	}

	return shortHash(string(img.Pix)), nil
}

// shortHash returns the first 16 hex characters of the SHA-256 of s
func shortHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:8])
}

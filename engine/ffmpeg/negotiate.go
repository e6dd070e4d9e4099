package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/drummonds/vidfrompdf/engine/process"
)

// Pre-compiled regexes that turn ffmpeg stderr into a short reason for logs
// and for the Reason field of an unavailable profile.
var (
	reUnknownEncoder = regexp.MustCompile(`Unknown encoder|Encoder not found`)

	reNVENCUnavailable = regexp.MustCompile(
		`(?i)No NVENC capable devices|Cannot load libcuda|` +
			`Cannot load libnvidia-encode|OpenEncodeSessionEx failed|` +
			`Driver does not support the required nvenc API version`)

	reVAAPIUnavailable = regexp.MustCompile(
		`(?i)Failed to initialise VAAPI|vaInitialize failed|No VA display found|` +
			`Device creation failed|No usable encoding profile found`)
)

// Classify maps well-known ffmpeg stderr lines to a short hint. It returns
// "" when nothing recognisable is found.
func Classify(stderr string) string {
	switch {
	case reUnknownEncoder.MatchString(stderr):
		return "encoder not compiled into ffmpeg"
	case reNVENCUnavailable.MatchString(stderr):
		return "no usable NVIDIA encoder"
	case reVAAPIUnavailable.MatchString(stderr):
		return "VAAPI device could not be initialised"
	}
	return ""
}

// ParseEncoders reads the table printed by `ffmpeg -hide_banner -encoders`
// and returns the set of encoder names.
func ParseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 || fields[1] == "=" {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			encoders[fields[1]] = true
		}
	}
	return encoders
}

// NegotiatorOptions tune encoder probing.
type NegotiatorOptions struct {
	// Timeout bounds each probe invocation.
	Timeout time.Duration
	// Disabled lists profile names that must be reported unavailable.
	Disabled []string
	// VaapiDevice overrides render device discovery.
	VaapiDevice string
}

// Negotiator determines which CodecProfiles work on this machine. Results
// are cached until Negotiate is called again; a render reads one snapshot
// and never sees a renegotiation half way through.
type Negotiator struct {
	runner process.Runner
	ffmpeg string
	opts   NegotiatorOptions

	findRenderDevice func() string

	mu           sync.RWMutex
	profiles     []CodecProfile
	negotiatedAt time.Time
}

// NewNegotiator creates a negotiator that probes the given ffmpeg binary.
func NewNegotiator(runner process.Runner, ffmpegPath string, opts NegotiatorOptions) *Negotiator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Negotiator{
		runner:           runner,
		ffmpeg:           ffmpegPath,
		opts:             opts,
		findRenderDevice: firstRenderDevice,
	}
}

// Negotiate probes every profile, caches and returns them in rank order.
// The software profile is always present and available.
func (n *Negotiator) Negotiate(ctx context.Context) []CodecProfile {
	encoders := map[string]bool{}
	res, err := n.runner.Run(ctx, n.opts.Timeout, n.ffmpeg, "-hide_banner", "-encoders")
	if err != nil {
		Logger.Warn("Could not list ffmpeg encoders, assuming software only", "error", err)
	} else {
		encoders = ParseEncoders(res.Stdout)
	}

	nvenc := nvencProfile()
	n.probe(ctx, &nvenc, encoders)

	device := n.opts.VaapiDevice
	if device == "" {
		device = n.findRenderDevice()
	}
	vaapi := vaapiProfile(device)
	if device == "" && !n.disabled(ProfileVAAPI) {
		vaapi.Reason = "no VAAPI render device found in /dev/dri"
	} else {
		n.probe(ctx, &vaapi, encoders)
	}

	software := softwareProfile()
	if n.disabled(ProfileSoftware) {
		Logger.Warn("Software profile cannot be disabled, ignoring")
	}
	if len(encoders) > 0 && !encoders[software.Encoder] {
		Logger.Warn("ffmpeg does not list libx264, software encoding will probably fail")
	}

	profiles := []CodecProfile{nvenc, vaapi, software}
	for _, p := range profiles {
		Logger.Info("Codec profile negotiated", "profile", p.Name, "encoder", p.Encoder,
			"rank", p.Rank, "available", p.Available, "reason", p.Reason)
	}

	n.mu.Lock()
	n.profiles = profiles
	n.negotiatedAt = time.Now()
	n.mu.Unlock()
	return cloneProfiles(profiles)
}

// Profiles returns the cached negotiation, or the software profile alone
// when Negotiate has not run yet.
func (n *Negotiator) Profiles() []CodecProfile {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.profiles == nil {
		return SoftwareOnly()
	}
	return cloneProfiles(n.profiles)
}

// NegotiatedAt reports when the cached profiles were produced.
func (n *Negotiator) NegotiatedAt() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.negotiatedAt
}

// probe fills Available/Reason for one hardware profile.
func (n *Negotiator) probe(ctx context.Context, p *CodecProfile, encoders map[string]bool) {
	switch {
	case n.disabled(p.Name):
		p.Reason = "disabled by configuration"
		return
	case !encoders[p.Encoder]:
		p.Reason = p.Encoder + " not listed by ffmpeg -encoders"
		return
	}

	res, err := n.runner.Run(ctx, n.opts.Timeout, n.ffmpeg, p.testArgs()...)
	if err != nil {
		p.Reason = Classify(res.Stderr)
		if p.Reason == "" {
			p.Reason = "test encode failed: " + err.Error()
		}
		return
	}
	p.Available = true
}

func (n *Negotiator) disabled(name string) bool {
	return slices.Contains(n.opts.Disabled, name)
}

// firstRenderDevice returns the first available /dev/dri/renderD* path,
// or empty string if none exist.
func firstRenderDevice() string {
	matches, _ := filepath.Glob("/dev/dri/renderD*")
	for _, m := range matches {
		if _, err := os.Stat(m); err == nil {
			return m
		}
	}
	return ""
}

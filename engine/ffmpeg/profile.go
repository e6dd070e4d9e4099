package ffmpeg

import "slices"

// Profile names, in preference order.
const (
	ProfileNVENC    = "nvenc"
	ProfileVAAPI    = "vaapi"
	ProfileSoftware = "software"
)

// CodecProfile is one way of encoding the final video. Rank 1 is preferred;
// the software profile is always last and always available.
type CodecProfile struct {
	Name      string   `json:"name"`
	Encoder   string   `json:"encoder"`
	Rank      int      `json:"rank"`
	Available bool     `json:"available"`
	Reason    string   `json:"reason,omitempty"`
	HWArgs    []string `json:"-"` // placed before the first input
	Filter    string   `json:"-"` // appended to the video filter chain
	VideoArgs []string `json:"-"` // placed after -c:v <encoder>
}

func nvencProfile() CodecProfile {
	return CodecProfile{
		Name:      ProfileNVENC,
		Encoder:   "h264_nvenc",
		Rank:      1,
		VideoArgs: []string{"-preset", "p4", "-rc", "vbr", "-cq", "23", "-pix_fmt", "yuv420p"},
	}
}

func vaapiProfile(device string) CodecProfile {
	return CodecProfile{
		Name:    ProfileVAAPI,
		Encoder: "h264_vaapi",
		Rank:    2,
		HWArgs: []string{
			"-init_hw_device", "vaapi=va:" + device,
			"-filter_hw_device", "va",
		},
		Filter:    "format=nv12,hwupload",
		VideoArgs: []string{"-qp", "23"},
	}
}

func softwareProfile() CodecProfile {
	return CodecProfile{
		Name:      ProfileSoftware,
		Encoder:   "libx264",
		Rank:      3,
		Available: true,
		VideoArgs: []string{"-preset", "fast", "-tune", "stillimage", "-crf", "23", "-pix_fmt", "yuv420p"},
	}
}

// SoftwareOnly is the profile list used before any negotiation has run.
func SoftwareOnly() []CodecProfile {
	return []CodecProfile{softwareProfile()}
}

// Usable filters profiles down to the available ones, keeping rank order.
func Usable(profiles []CodecProfile) []CodecProfile {
	usable := make([]CodecProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.Available {
			usable = append(usable, p)
		}
	}
	slices.SortStableFunc(usable, func(a, b CodecProfile) int { return a.Rank - b.Rank })
	return usable
}

// testArgs is a 0.1 second synthetic encode used to prove the encoder works
// on this machine, not merely that ffmpeg was built with it.
func (p CodecProfile) testArgs() []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	args = append(args, p.HWArgs...)
	args = append(args, "-f", "lavfi", "-i", "color=black:s=256x256:d=0.1")
	if p.Filter != "" {
		args = append(args, "-vf", p.Filter)
	}
	args = append(args, "-c:v", p.Encoder, "-f", "null", "-")
	return args
}

func cloneProfiles(profiles []CodecProfile) []CodecProfile {
	out := make([]CodecProfile, len(profiles))
	for i, p := range profiles {
		p.HWArgs = slices.Clone(p.HWArgs)
		p.VideoArgs = slices.Clone(p.VideoArgs)
		out[i] = p
	}
	return out
}

package checkpoint

import (
	"strings"

	"github.com/hupe1980/localagg/nn"
)

// Suffix is appended to checkpoint names that lack it.
const Suffix = ".tar"

// Filename returns name with the checkpoint suffix.
func Filename(name string) string {
	if strings.HasSuffix(name, Suffix) {
		return name
	}
	return name + Suffix
}

// IsAutoencoder reports whether a state dict was written by an autoencoder,
// i.e. whether any key mentions a decoder.
func IsAutoencoder(sd nn.StateDict) bool {
	for k := range sd {
		if strings.Contains(k, "decoder") {
			return true
		}
	}
	return false
}

// StripAutoencoder returns the encoder part of an autoencoder state with the
// "encoder." prefix removed. Other states are returned unchanged.
func StripAutoencoder(sd nn.StateDict) nn.StateDict {
	if !IsAutoencoder(sd) {
		return sd
	}
	out := make(nn.StateDict, len(sd))
	for k, v := range sd {
		if rest, ok := strings.CutPrefix(k, "encoder."); ok {
			out[rest] = v
		}
	}
	return out
}

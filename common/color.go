package common

import (
	"fmt"
	"strconv"
	"strings"
)

// RGB is a colour as stored in the configuration store. Its textual form
// is "R,G,B" with decimal components, shared with every other process
// reading the same keys.
type RGB struct {
	R, G, B uint8
}

// String formats the colour as "R,G,B".
func (c RGB) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// ParseRGB parses an "R,G,B" string. Each component must be 0-255.
func ParseRGB(s string) (RGB, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return RGB{}, fmt.Errorf("invalid colour %q: want R,G,B", s)
	}
	var out [3]uint8
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return RGB{}, fmt.Errorf("invalid colour component %q in %q", p, s)
		}
		out[i] = uint8(n)
	}
	return RGB{R: out[0], G: out[1], B: out[2]}, nil
}

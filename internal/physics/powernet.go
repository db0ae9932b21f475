package physics

import (
	"github.com/san-kum/propsim/internal/dynamo"
)

// PowerNet closes the series circuit: the loop current is the value at
// which battery, controller, motor and propeller powers sum to zero.
type PowerNet struct{}

func NewPowerNet() *PowerNet {
	return &PowerNet{}
}

var powerTerms = []string{"power_batt", "power_esc", "power_motor", "power_prop"}

func (n *PowerNet) Inputs() []dynamo.Port {
	ports := make([]dynamo.Port, len(powerTerms))
	for i, name := range powerTerms {
		ports[i] = dynamo.Port{Name: name, Units: "W"}
	}
	return ports
}

func (n *PowerNet) Outputs() []dynamo.Port {
	return []dynamo.Port{{Name: "current", Units: "A"}}
}

// Residual returns the net power, keyed by the unknown it closes.
func (n *PowerNet) Residual(in, out dynamo.Values) (dynamo.Values, error) {
	if err := in.Require(powerTerms...); err != nil {
		return nil, err
	}
	sum := 0.0
	for _, name := range powerTerms {
		sum += in[name]
	}
	return dynamo.Values{"current": sum}, nil
}

func (n *PowerNet) Partials(in, out dynamo.Values) (dynamo.Partials, error) {
	p := dynamo.Partials{}
	for _, name := range powerTerms {
		p.Set("current", name, 1)
	}
	return p, nil
}

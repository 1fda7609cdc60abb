package cscp

import (
	"sort"

	"constellation/pkg/wire"
)

// standardCommands is the fixed built-in verb list merged with the user
// registry for get_commands, and used to recognise a request as "standard"
// before falling through to the user registry.
var standardCommands = map[string]string{
	"get_name":     "Return this satellite's canonical name.",
	"get_version":  "Return the satellite implementation's version string.",
	"get_commands": "Return the names and descriptions of all available commands.",
	"get_state":    "Return the current FSM state.",
	"get_status":   "Return the most recent human-readable status string.",
	"get_config":   "Return the configuration keys successfully consumed by initialize.",
	"get_run_id":   "Return the run identifier passed to the most recent start.",
	"shutdown":     "Terminate the satellite process.",
}

func (d *Dispatcher) handleStandard(verb string) (wire.Value, bool, error) {
	switch verb {
	case "get_name":
		return wire.StringValue(d.name), true, nil
	case "get_version":
		return wire.StringValue(d.version), true, nil
	case "get_commands":
		merged := wire.NewDictionary()
		names := make([]string, 0, len(standardCommands))
		for n := range standardCommands {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			merged.Set(n, wire.StringValue(standardCommands[n]))
		}
		userCommands := d.registry.Describe()
		for _, n := range userCommands.Keys() {
			v, _ := userCommands.Get(n)
			merged.Set(n, v)
		}
		return wire.DictValue(merged), true, nil
	case "get_state":
		return wire.StringValue(d.fsm.State().String()), true, nil
	case "get_status":
		return wire.StringValue(d.fsm.Status()), true, nil
	case "get_config":
		return wire.DictValue(d.config.Snapshot()), true, nil
	case "get_run_id":
		return wire.StringValue(d.fsm.RunID()), true, nil
	default:
		return wire.Value{}, false, nil
	}
}

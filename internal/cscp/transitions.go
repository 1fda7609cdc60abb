package cscp

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"

	"constellation/internal/fsm"
	"constellation/pkg/wire"
)

// dispatchTransition handles the six CSCP verbs that drive the FSM
// directly. interrupt and failure are internal-only and never reach here
// (see spec.md §4.2): a client sending either verb falls through to the
// standard/registry stages and ultimately gets UNKNOWN.
func (d *Dispatcher) dispatchTransition(verb string, payload []byte) (ok bool, replyType wire.CSCPVerbType, respPayload []byte) {
	switch verb {
	case "initialize":
		dict, err := decodeDictPayload(payload)
		if err != nil {
			return true, wire.CSCPError, []byte(err.Error())
		}
		cfg := wire.NewConfigurationFromDictionary(dict)
		err = d.fsm.Initialize(cfg)
		d.absorbConfig(cfg, err)
		return true, classifyTransition(err), errPayload(err)

	case "launch":
		err := d.fsm.Launch()
		return true, classifyTransition(err), errPayload(err)

	case "land":
		err := d.fsm.Land()
		return true, classifyTransition(err), errPayload(err)

	case "reconfigure":
		dict, err := decodeDictPayload(payload)
		if err != nil {
			return true, wire.CSCPError, []byte(err.Error())
		}
		cfg := wire.NewConfigurationFromDictionary(dict)
		err = d.fsm.Reconfigure(cfg)
		d.absorbConfig(cfg, err)
		return true, classifyTransition(err), errPayload(err)

	case "start":
		var runID string
		if len(payload) > 0 {
			if err := msgpack.Unmarshal(payload, &runID); err != nil {
				return true, wire.CSCPError, []byte(err.Error())
			}
		}
		err := d.fsm.Start(runID)
		return true, classifyTransition(err), errPayload(err)

	case "stop":
		err := d.fsm.Stop()
		return true, classifyTransition(err), errPayload(err)

	default:
		return false, 0, nil
	}
}

func decodeDictPayload(payload []byte) (*wire.Dictionary, error) {
	dict := wire.NewDictionary()
	if len(payload) == 0 {
		return dict, nil
	}
	if err := msgpack.Unmarshal(payload, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func classifyTransition(err error) wire.CSCPVerbType {
	if err == nil {
		return wire.CSCPSuccess
	}
	var notImpl *fsm.NotImplementedError
	if errors.As(err, &notImpl) {
		return wire.CSCPNotImplemented
	}
	return wire.CSCPInvalid
}

func errPayload(err error) []byte {
	if err == nil {
		return nil
	}
	return []byte(err.Error())
}

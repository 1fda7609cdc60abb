package fsm

// transitionRule describes one legal (fromState, command) edge: the
// transitional state entered immediately and the steady state reached when
// the action returns successfully.
type transitionRule struct {
	transitional State
	target       State
}

// table is the legal source->command->transitional/target set from §4.2.
// Interrupt is looked up the same way but is never reachable from a CSCP
// REQUEST: the dispatcher's transition stage has no case for "interrupt" or
// "failure", so such a request falls through and is answered UNKNOWN.
// Failure has no entry here; see lookup.
var table = map[State]map[Command]transitionRule{
	StateNew: {
		CmdInitialize: {StateInitializing, StateInit},
	},
	StateInit: {
		CmdInitialize: {StateInitializing, StateInit},
		CmdLaunch:     {StateLaunching, StateOrbit},
	},
	StateOrbit: {
		CmdLand:        {StateLanding, StateInit},
		CmdReconfigure: {StateReconfiguring, StateOrbit},
		CmdStart:       {StateStarting, StateRun},
		CmdInterrupt:   {StateInterrupting, StateSafe},
	},
	StateRun: {
		CmdStop:      {StateStopping, StateOrbit},
		CmdInterrupt: {StateInterrupting, StateSafe},
	},
	StateSafe: {
		CmdInitialize: {StateInitializing, StateInit},
	},
	StateError: {
		CmdInitialize: {StateInitializing, StateInit},
	},
}

// lookup returns the rule for (from, cmd) and whether one exists. Failure is
// legal from every state and is handled specially by fail(), not through
// this table.
func lookup(from State, cmd Command) (transitionRule, bool) {
	rules, ok := table[from]
	if !ok {
		return transitionRule{}, false
	}
	rule, ok := rules[cmd]
	return rule, ok
}

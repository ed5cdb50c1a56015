// Package gate wires the evaluation pipeline together.
//
// Evidence flows strictly left to right:
//
//	loader -> metric calculator -> waiver resolver -> rule engine -> decision -> audit sink
//
// No stage reaches back into an earlier one, and every evaluation builds
// its evidence set, metrics and waivers from scratch. The Evaluator
// returns a report.Summary whose ExitCode follows the precedence
// audit failure (3) > fatal evidence (2) > failing gate (1) > pass (0).
//
// Usage:
//
//	ev, err := gate.New(cfg, logger, gate.WithMetrics(collector), gate.WithTracer(tracer))
//	if err != nil {
//		return err
//	}
//	defer ev.Close()
//
//	summary, err := ev.Evaluate(ctx)
package gate

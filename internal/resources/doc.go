// Package resources provides ready-made subscribables for common controller
// resources: controller state, operation mode, RAPID execution state, RAPID
// data, I/O signals and event log domains.
//
// A Handle can be passed to subscription.Manager.Subscribe directly; pair it
// with InitialFire to deliver the current state before the first change
// notification arrives.
//
//	mode := resources.OperationMode(func(ev subscription.Event) {
//	    logger.Info("opmode changed", "mode", ev["opmode"])
//	})
//	err := subs.Subscribe(ctx, resources.Subscribables(mode),
//	    resources.InitialFire(client, mode))
package resources

// Package canopy is a client for hierarchical coordination stores such as
// ZooKeeper.
//
// It wires a session (connection state, transparent reconnect after
// expiry, multiplexed watches) to a driver chosen by name, and exposes the
// tree tools built on top of it.
//
// Features:
//
//   - **One watch per node**: any number of live views share a single
//     store watch, re-armed after every change.
//   - **Survives expiry**: views are told when the session dies, then
//     re-attached once a new one is up.
//   - **Links**: a property "name -> /target" makes a missing child
//     resolve to another node.
//   - **Tree files**: indented descriptions that can be applied, diffed
//     and exported back.
//
// Usage:
//
//	s, err := canopy.Connect(ctx, "zk1:2181,zk2:2181",
//		canopy.WithTimeout(5*time.Second),
//		canopy.WithLogger(logger),
//	)
//
//	props, err := s.Properties(ctx, "/app/config")
//	props.AddCallback(func(p *session.Properties) error {
//		logger.Info("config changed", "props", p.Get())
//		return nil
//	})
package canopy

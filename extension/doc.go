// Package extension mounts a Beacon engine into a host application.
//
// The extension:
//   - builds the engine from a Config and a store
//   - runs schema migrations on Init
//   - registers the management routes on a Forge router with OpenAPI
//     metadata, or exposes them as a plain http.Handler
//   - starts the delivery engine and stops it gracefully
//   - reports health through the store's Ping
//
// Usage:
//
//	ext := extension.New(
//	    extension.WithStore(pgStore),
//	    extension.WithPrefix("/webhooks"),
//	)
//	if err := ext.Init(ctx); err != nil {
//	    return err
//	}
//	ext.RegisterRoutes(app.Router(), app.Logger())
//	ext.Start(ctx)
//	defer ext.Stop(ctx)
package extension

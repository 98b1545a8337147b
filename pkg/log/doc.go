/*
Package log provides structured logging for the orchestrator using zerolog.

A single package-level Logger is configured once via Init and shared by every
other package. Component loggers (WithComponent, WithBeadID, WithWorkflowID,
WithCheckpointID, WithWorkerID) attach a field to a child logger so call sites
don't repeat it on every line.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Str("bead_id", id).Msg("bead marked ready")
*/
package log

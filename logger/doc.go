// Package logger provides structured logging for runflow using zerolog.
//
// Loggers are passed explicitly to every component. Fields are attached as
// maps so call sites read the same regardless of the output format:
//
//	log := logger.Get("dispatch")
//	log.Info("step finished", logger.Fields(logger.FieldRunID, id, logger.FieldStepID, step))
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
package logger

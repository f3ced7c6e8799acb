// Package logging builds the process-wide zap logger.
//
// It adds a custom Trace level below Debug, JSON or console encoding, and
// defense-in-depth secret redaction at the encoder: configured field names
// are always masked and configured value patterns are matched before a
// string is emitted.
//
// Services receive a plain *zap.Logger; redaction is transparent to them.
//
//	logger, err := logging.New(logging.NewDefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync(logger)
package logging

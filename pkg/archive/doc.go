// Package archive copies rotated audit log files to S3 compatible
// object storage.
//
// An S3Archiver plugs into the audit file sink through its rotation hook:
//
//	archiver, err := archive.NewS3Archiver(ctx, archive.Config{
//	    Bucket:       "rampart-audit",
//	    Endpoint:     "http://localhost:9000",
//	    UsePathStyle: true,
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer archiver.Close(10 * time.Second)
//
//	fileLog, err := audit.NewFileLogger(audit.FileLoggerConfig{
//	    Dir:      "/var/log/rampart",
//	    OnRotate: archiver.Enqueue,
//	})
//
// Uploads run on an async.WorkerPool so rotation never waits on the
// network. Each object carries a checksum-sha256 metadata entry.
package archive

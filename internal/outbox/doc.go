// Package outbox forwards analysis progress events to Kafka.
//
// # Overview
//
// Every event published on the broadcaster is wrapped in an Envelope and
// written to the events topic, keyed by job ID so that one job's events stay
// ordered within a partition. Envelope payloads use the same wire form as
// the HTTP event stream.
//
// # Components
//
//   - Emitter: builds envelopes and Kafka messages from progress events
//   - Forwarder: drains a broadcaster firehose subscription into a MessageWriter
//
// # Event Types
//
// event_type carries the wire type of the payload, for example:
//
//   - analysis_started: A job has been accepted and started running
//   - retrieval_complete: Document retrieval finished
//   - summarizing_progress: One more document was summarized
//   - analysis_complete: The report is available
//   - analysis_error: The job failed, timed out or was cancelled
//
// # Usage
//
//	writer := outbox.NewKafkaWriter(outbox.WriterConfig{
//	    Brokers: cfg.Kafka.Brokers,
//	    Topic:   cfg.Kafka.EventsTopic,
//	}, logger)
//	fwd := outbox.NewForwarder(broadcaster.SubscribeAll(), writer,
//	    outbox.NewEmitter(outbox.EmitterConfig{}), logger)
//	go fwd.Run(ctx)
//
// Delivery is best effort. A slow writer causes the firehose subscription
// to drop events rather than stall job execution.
package outbox

// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// IngestService embeds materialised chunks, RetrievalService answers
// hybrid queries. Both report through an injected EventSink.
package services

// Package ingest is the advertisement ingestion engine.
//
// An Engine owns one BLE adapter. It keeps passive discovery cycling in
// fixed windows, recovers a failing adapter by resetting it within a retry
// budget, watches every allowed device exactly once, and publishes the
// service data of each advertisement to subscribed consumers.
package ingest

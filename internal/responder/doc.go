// Package responder delivers normalized turns to the external responder
// over HTTP. It is the pipeline's only output; retries and response
// rendering are the responder service's problem.
package responder

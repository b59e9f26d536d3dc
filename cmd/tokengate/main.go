// tokengate admits LLM calls under per-provider token-per-minute,
// request-per-minute and concurrency ceilings.
//
// Every call reserves its estimated tokens before it is sent, waits while
// the rolling window is full, and replaces the estimate with the usage the
// provider reports. Transient provider failures are retried with
// exponential backoff.
//
// Usage:
//
//	# Complete prompts from a file, one per line
//	tokengate run --config config.yaml --prompts prompts.txt
//
//	# Load test a controller against a simulated provider
//	tokengate benchmark --requests 500 --tpm 20000
//
//	# Summarize recorded usage for the last day
//	tokengate usage --since 24h
//
//	# Check a configuration file
//	tokengate validate --config config.yaml
package main

func main() {
	Execute()
}

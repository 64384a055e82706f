// Command bundle-monitor tracks guideline bundle adherence for hospitalized
// patients.
//
// Usage:
//
//	# Run the scheduled passes, the ops API and the alert ack consumer
//	bundle-monitor serve
//
//	# Run one pass and print its summary
//	bundle-monitor run deadline-sweep
//
//	# Check bundle definitions against the bound checkers
//	bundle-monitor validate
//
//	# Create or update the episode tables
//	bundle-monitor migrate
//
// Configuration is read from the environment.
package main

func main() {
	Execute()
}

// Discovery - compute inventory reconciliation
// Sync. Join. Publish.
package main

func main() {
	Execute()
}

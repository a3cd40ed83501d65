// Command memsim replays allocation scenarios against a memory pool and
// reports the resulting hole layout.
package main

func main() {
	execute()
}

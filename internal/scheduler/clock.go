package scheduler

import "time"

// now is a package-level indirection over time.Now so tests can freeze
// the clock when asserting zombie-detection timing without sleeping real
// wall-clock seconds.
var now = time.Now

// Package testutil provides shared fixtures for testing overlay components:
// a fixed network key, cipher construction and a node configuration generator
// with functional options.
//
//	cfg := testutil.NewConfig(
//	    testutil.WithSeeds(seed.Addr()),
//	    testutil.WithRelay("127.0.0.1:0"),
//	)
package testutil

// Package fakes provides test doubles for vaultsync's backend, SDK and
// prompt interfaces.
//
// FakeBackend is an in-memory backend.Backend with scripted login state,
// per-method errors and call counters. FakeSecretsManagerClient and
// FakeSTSClient stand in for the AWS SDK clients. FakePrompter answers
// confirmations and selections from a script.
//
// Usage:
//
//	fake := fakes.NewFakeBackend("bitwarden").
//	    WithItem("SSH-Config", "Host x\n").
//	    WithValidToken("tok")
//	mgr := session.NewManager(fake, session.Options{})
//	// drive the engine, then inspect fake.Notes / fake.CallCount
package fakes

/*
Package adapter wires together shadowfs's Metadata Index, storage backend
chain, Session Cache, and Filesystem Service into a mounted Kernel Bridge
Adapter, plus the Metrics and Health components that observe it.

	cfg := config.NewDefault()
	cfg.LoadFromFile("shadowfs.yaml")

	a, err := adapter.New(cfg, func(prompt string) bool {
		fmt.Print(prompt + " [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		return strings.EqualFold(answer, "y")
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer a.Stop(ctx)

Start builds one storage.Backend per configured section (primary and each
replica), wraps them in the compression/encryption wrappers spec.md §4.3
describes, and wraps the result in a ReplicationWrapper when replicas are
configured. Before building a section's backend, Start compares the
configured storage_backend/encryption_key/use_hash_as_filename/s3_*/
blob_storage values against what was persisted on a previous run; a
mismatch invokes the ConfirmFunc passed to New, and rejection aborts
startup.

Nuke is a package-level function rather than an Adapter method: it skips
the persisted-setting checks entirely, matching spec.md §6's
"nuke command skips these checks".
*/
package adapter

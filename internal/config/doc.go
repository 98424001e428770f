/*
Package config loads and validates shadowfs configuration from YAML files
and OBJECTFS_* environment variables.

# Configuration Structure

	database_file: ./index.db
	mount_point: ./data
	update_access_time: false
	store_file_change_history: true
	primary:
	  storage_backend: FileSystem   # FileSystem | Sqlar | S3 | RocksDb
	  blob_storage: ./blobs
	  encryption_key: ""
	  compression_level: 6          # 0-9, clamped
	  use_hash_as_filename: false
	  s3_bucket: ""
	  s3_region: ""
	  s3_endpoint_url: ""
	replicas: []
	logging:
	  level: info
	  format: text
	metrics:
	  enabled: true
	  listen_addr: ":9090"
	health:
	  enabled: true
	  check_interval: 30s

A replica's unset fields fall through to Primary's values; see
ResolvedReplicas.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/shadowfs/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Environment variables take precedence over the file and are the preferred
place for secrets such as OBJECTFS_PRIMARY_ENCRYPTION_KEY.
*/
package config

package oauth

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresClientStore persists client registrations in Postgres for
// deployments that already run a database. Same interface, same synchronous
// durability discipline as the file store.
type PostgresClientStore struct {
	db *sql.DB
}

// NewPostgresClientStore opens the connection and ensures the schema exists.
func NewPostgresClientStore(connString string) (*PostgresClientStore, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresClientStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresClientStore) Save(client *Client) error {
	query := `
		INSERT INTO oauth_clients
			(client_id, client_secret_hash, client_name, redirect_uris, grant_types, response_types, scope, token_endpoint_auth_method, client_id_issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (client_id)
		DO UPDATE SET
			client_secret_hash = EXCLUDED.client_secret_hash,
			client_name = EXCLUDED.client_name,
			redirect_uris = EXCLUDED.redirect_uris,
			grant_types = EXCLUDED.grant_types,
			response_types = EXCLUDED.response_types,
			scope = EXCLUDED.scope,
			token_endpoint_auth_method = EXCLUDED.token_endpoint_auth_method
	`
	_, err := s.db.Exec(
		query,
		client.ClientID,
		nullableString(client.ClientSecretHash),
		nullableString(client.ClientName),
		pq.Array(client.RedirectURIs),
		pq.Array(client.GrantTypes),
		pq.Array(client.ResponseTypes),
		nullableString(client.Scope),
		client.TokenEndpointAuthMethod,
		client.ClientIDIssuedAt,
	)
	return err
}

func (s *PostgresClientStore) Get(clientID string) (*Client, error) {
	query := `
		SELECT client_id, client_secret_hash, client_name, redirect_uris, grant_types, response_types, scope, token_endpoint_auth_method, client_id_issued_at
		FROM oauth_clients
		WHERE client_id = $1
	`

	var client Client
	var redirectURIs, grantTypes, responseTypes []string
	var secretHash, clientName, scope sql.NullString

	err := s.db.QueryRow(query, clientID).Scan(
		&client.ClientID,
		&secretHash,
		&clientName,
		pq.Array(&redirectURIs),
		pq.Array(&grantTypes),
		pq.Array(&responseTypes),
		&scope,
		&client.TokenEndpointAuthMethod,
		&client.ClientIDIssuedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	client.ClientSecretHash = secretHash.String
	client.ClientName = clientName.String
	client.RedirectURIs = redirectURIs
	client.GrantTypes = grantTypes
	client.ResponseTypes = responseTypes
	client.Scope = scope.String
	return &client, nil
}

func (s *PostgresClientStore) Delete(clientID string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM oauth_clients WHERE client_id = $1`, clientID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresClientStore) List() ([]*Client, error) {
	query := `
		SELECT client_id, client_secret_hash, client_name, redirect_uris, grant_types, response_types, scope, token_endpoint_auth_method, client_id_issued_at
		FROM oauth_clients
		ORDER BY client_id
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Client
	for rows.Next() {
		var client Client
		var redirectURIs, grantTypes, responseTypes []string
		var secretHash, clientName, scope sql.NullString
		if err := rows.Scan(
			&client.ClientID,
			&secretHash,
			&clientName,
			pq.Array(&redirectURIs),
			pq.Array(&grantTypes),
			pq.Array(&responseTypes),
			&scope,
			&client.TokenEndpointAuthMethod,
			&client.ClientIDIssuedAt,
		); err != nil {
			return nil, err
		}
		client.ClientSecretHash = secretHash.String
		client.ClientName = clientName.String
		client.RedirectURIs = redirectURIs
		client.GrantTypes = grantTypes
		client.ResponseTypes = responseTypes
		client.Scope = scope.String
		list = append(list, &client)
	}
	return list, rows.Err()
}

func (s *PostgresClientStore) Close() error {
	return s.db.Close()
}

func (s *PostgresClientStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS oauth_clients (
		client_id VARCHAR(255) PRIMARY KEY,
		client_secret_hash TEXT,
		client_name TEXT,
		redirect_uris TEXT[] NOT NULL,
		grant_types TEXT[] NOT NULL,
		response_types TEXT[] NOT NULL,
		scope TEXT,
		token_endpoint_auth_method VARCHAR(50) NOT NULL,
		client_id_issued_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func nullableString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: val, Valid: true}
}

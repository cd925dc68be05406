package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaGridRepo реализует GridRepo для MariaDB/MySQL.
// Клетки слоя хранятся JSON-массивом в таблице layer_snapshots.
type MariaGridRepo struct {
	db *sql.DB
}

// NewMariaGridRepo подключается к базе и создает таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMariaGridRepo(dsn string) (*MariaGridRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaGridRepo{db: db}

	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return repo, nil
}

func (r *MariaGridRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS layer_snapshots (
			layer      VARCHAR(128) PRIMARY KEY,
			dual_grid  BOOLEAN      NOT NULL DEFAULT FALSE,
			seed       INT UNSIGNED NOT NULL DEFAULT 0,
			cells      LONGBLOB     NOT NULL,
			saved_at   TIMESTAMP(6) NOT NULL,
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`

	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы layer_snapshots: %w", err)
	}
	return nil
}

// Save сохраняет снимок через INSERT ... ON DUPLICATE KEY UPDATE.
func (r *MariaGridRepo) Save(ctx context.Context, snap *LayerSnapshot) error {
	if snap == nil || snap.Layer == "" {
		return fmt.Errorf("недействительный снимок: пустое имя слоя")
	}

	cells, err := json.Marshal(snap.Cells)
	if err != nil {
		return fmt.Errorf("ошибка сериализации клеток: %w", err)
	}

	query := `
		INSERT INTO layer_snapshots (layer, dual_grid, seed, cells, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			dual_grid = VALUES(dual_grid),
			seed = VALUES(seed),
			cells = VALUES(cells),
			saved_at = VALUES(saved_at)
	`

	_, err = r.db.ExecContext(ctx, query, snap.Layer, snap.DualGrid, snap.Seed, cells, snap.SavedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения слоя %s: %w", snap.Layer, err)
	}
	return nil
}

// Load загружает снимок слоя.
func (r *MariaGridRepo) Load(ctx context.Context, layer string) (*LayerSnapshot, bool, error) {
	query := `SELECT dual_grid, seed, cells, saved_at FROM layer_snapshots WHERE layer = ?`

	snap := LayerSnapshot{Layer: layer}
	var cells []byte
	err := r.db.QueryRowContext(ctx, query, layer).Scan(&snap.DualGrid, &snap.Seed, &cells, &snap.SavedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки слоя %s: %w", layer, err)
	}

	if err := json.Unmarshal(cells, &snap.Cells); err != nil {
		return nil, false, fmt.Errorf("ошибка десериализации клеток слоя %s: %w", layer, err)
	}
	return &snap, true, nil
}

// Delete удаляет снимок слоя.
func (r *MariaGridRepo) Delete(ctx context.Context, layer string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM layer_snapshots WHERE layer = ?`, layer)
	if err != nil {
		return fmt.Errorf("ошибка удаления слоя %s: %w", layer, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("слой %s: %w", layer, ErrLayerNotFound)
	}
	return nil
}

// List возвращает имена слоёв.
func (r *MariaGridRepo) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT layer FROM layer_snapshots ORDER BY layer`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка слоёв: %w", err)
	}
	defer rows.Close()

	layers := []string{}
	for rows.Next() {
		var layer string
		if err := rows.Scan(&layer); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

// Close закрывает соединение с базой данных.
func (r *MariaGridRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

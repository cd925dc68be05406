package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/storage"
	"github.com/annel0/autotile/internal/terrain"
	"github.com/annel0/autotile/internal/tiling"
	"github.com/annel0/autotile/internal/vec"
	"github.com/gin-gonic/gin"
)

// maxTerrainCells ограничивает размер области генерации за один запрос
const maxTerrainCells = 1 << 20

// CellDTO - клетка в теле запроса и ответа
type CellDTO struct {
	X     int             `json:"x"`
	Y     int             `json:"y"`
	Value rules.CellValue `json:"value"`
}

func (c CellDTO) pos() vec.Vec2 { return vec.Vec2{X: c.X, Y: c.Y} }

// OutcomeDTO - спрайт координаты
type OutcomeDTO struct {
	X       int                  `json:"x"`
	Y       int                  `json:"y"`
	Outcome tiling.SpriteOutcome `json:"outcome"`
}

// RegisterLayerRequest - запрос на регистрацию слоя
type RegisterLayerRequest struct {
	ID       string `json:"id" binding:"required"`
	DualGrid bool   `json:"dual_grid"`
}

// SetCellsRequest - пачка правок одного слоя
type SetCellsRequest struct {
	Cells []CellDTO `json:"cells" binding:"required"`
}

// SpawnedRequest - регистрация созданной потребителем сущности
type SpawnedRequest struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Handle uint64 `json:"handle" binding:"required"`
}

// TerrainRequest - заполнение прямоугольника шумом Перлина
type TerrainRequest struct {
	MinX  int            `json:"min_x"`
	MinY  int            `json:"min_y"`
	MaxX  int            `json:"max_x"`
	MaxY  int            `json:"max_y"`
	Seed  int64          `json:"seed"`
	Scale float64        `json:"scale,omitempty"`
	Bands []terrain.Band `json:"bands,omitempty"`
}

// SeedRequest - новое глобальное зерно
type SeedRequest struct {
	Seed *uint32 `json:"seed" binding:"required"`
}

// layerParam возвращает слой из пути или пишет 404
func (rs *RestServer) layerParam(c *gin.Context) (tiling.LayerID, bool) {
	id := tiling.LayerID(c.Param("id"))
	if !rs.engine.HasLayer(id) {
		notFound(c, "Слой не найден: "+string(id))
		return "", false
	}
	return id, true
}

func (rs *RestServer) handleListLayers(c *gin.Context) {
	layers := rs.engine.Layers()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список слоёв получен",
		Data: gin.H{
			"layers": layers,
			"total":  len(layers),
		},
	})
}

func (rs *RestServer) handleRegisterLayer(c *gin.Context) {
	var req RegisterLayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}

	if !rs.engine.RegisterLayer(tiling.LayerID(req.ID), req.DualGrid) {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Слой уже зарегистрирован",
		})
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Слой зарегистрирован",
		Data:    req,
	})
}

// handleSetRules компилирует набор правил из JSON. Для ещё не
// зарегистрированного слоя набор сохраняется и применится при регистрации.
func (rs *RestServer) handleSetRules(c *gin.Context) {
	id := tiling.LayerID(c.Param("id"))

	var def rules.RuleSetDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		badRequest(c, "Неверный формат набора правил: "+err.Error())
		return
	}

	rs2, err := rules.CompileRuleSet(def)
	if err != nil {
		var ce *rules.CompileError
		if errors.As(err, &ce) {
			c.JSON(http.StatusBadRequest, GenericResponse{
				Success: false,
				Message: "Ошибка компиляции: " + ce.Error(),
				Data:    gin.H{"rule": ce.Rule, "index": ce.Index},
			})
			return
		}
		badRequest(c, "Ошибка компиляции: "+err.Error())
		return
	}

	rs.engine.SetRuleSet(id, rs2)
	if rs.broadcaster != nil {
		if err := rs.broadcaster.BroadcastRuleSet(c.Request.Context(), string(id), def); err != nil {
			rs.logger.Warn("⚠️ Набор правил слоя %s не разослан: %v", id, err)
		}
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Набор правил принят",
		Data: gin.H{
			"layer":      id,
			"vocabulary": def.Vocabulary,
			"rules":      rs2.Len(),
			"registered": rs.engine.HasLayer(id),
		},
	})
}

func (rs *RestServer) handleGetCells(c *gin.Context) {
	id, ok := rs.layerParam(c)
	if !ok {
		return
	}

	snap := rs.engine.Snapshot(id)
	cells := make([]CellDTO, 0, len(snap))
	for p, v := range snap {
		cells = append(cells, CellDTO{X: p.X, Y: p.Y, Value: v})
	}
	sort.Slice(cells, func(i, j int) bool {
		return cells[i].pos().Less(cells[j].pos())
	})

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Клетки слоя получены",
		Data: gin.H{
			"layer": id,
			"frame": rs.engine.Frame(),
			"cells": cells,
		},
	})
}

func (rs *RestServer) handleSetCells(c *gin.Context) {
	id, ok := rs.layerParam(c)
	if !ok {
		return
	}

	var req SetCellsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}

	for i, cell := range req.Cells {
		if !rules.Storable(cell.Value) {
			c.JSON(http.StatusBadRequest, GenericResponse{
				Success: false,
				Message: "Недопустимое значение клетки: " + strconv.Itoa(int(cell.Value)),
				Data:    gin.H{"index": i, "x": cell.X, "y": cell.Y},
			})
			return
		}
	}
	for _, cell := range req.Cells {
		rs.engine.SetCell(id, cell.pos(), cell.Value)
	}

	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Правки поставлены в очередь",
		Data:    gin.H{"queued": len(req.Cells)},
	})
}

// handleGetCell возвращает всё, что известно о координате
func (rs *RestServer) handleGetCell(c *gin.Context) {
	id, ok := rs.layerParam(c)
	if !ok {
		return
	}

	x, errX := strconv.Atoi(c.Query("x"))
	y, errY := strconv.Atoi(c.Query("y"))
	if errX != nil || errY != nil {
		badRequest(c, "Параметры x и y обязательны")
		return
	}
	p := vec.Vec2{X: x, Y: y}

	data := gin.H{
		"x":     x,
		"y":     y,
		"value": rs.engine.Cell(id, p),
	}
	if out, ok := rs.engine.Outcome(id, p); ok {
		data["outcome"] = out
	}
	if h, ok := rs.engine.MatchHash(id, p); ok {
		data["match_hash"] = h
	}
	if handle, ok := rs.engine.Spawned(id, p); ok {
		data["spawned"] = handle
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Клетка получена",
		Data:    data,
	})
}

func (rs *RestServer) handleGetOutcomes(c *gin.Context) {
	id, ok := rs.layerParam(c)
	if !ok {
		return
	}

	outcomes := rs.engine.Outcomes(id)
	list := make([]OutcomeDTO, 0, len(outcomes))
	for p, out := range outcomes {
		list = append(list, OutcomeDTO{X: p.X, Y: p.Y, Outcome: out})
	}
	sort.Slice(list, func(i, j int) bool {
		return vec.Vec2{X: list[i].X, Y: list[i].Y}.Less(vec.Vec2{X: list[j].X, Y: list[j].Y})
	})

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Спрайты слоя получены",
		Data: gin.H{
			"layer":    id,
			"frame":    rs.engine.Frame(),
			"outcomes": list,
		},
	})
}

func (rs *RestServer) handleClearLayer(c *gin.Context) {
	id, ok := rs.layerParam(c)
	if !ok {
		return
	}
	rs.engine.ClearLayer(id)
	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Очистка слоя поставлена в очередь",
	})
}

// handleRegisterSpawned привязывает дескриптор к координате с сущностью в результате
func (rs *RestServer) handleRegisterSpawned(c *gin.Context) {
	id, ok := rs.layerParam(c)
	if !ok {
		return
	}

	var req SpawnedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}

	if !rs.engine.RegisterSpawned(id, vec.Vec2{X: req.X, Y: req.Y}, tiling.EntityHandle(req.Handle)) {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "В координате нет совпадения с сущностью",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сущность зарегистрирована",
	})
}

func (rs *RestServer) handleTerrain(c *gin.Context) {
	id, ok := rs.layerParam(c)
	if !ok {
		return
	}

	var req TerrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}
	if req.MaxX < req.MinX || req.MaxY < req.MinY {
		badRequest(c, "Пустая область")
		return
	}
	if int64(req.MaxX-req.MinX+1)*int64(req.MaxY-req.MinY+1) > maxTerrainCells {
		badRequest(c, "Слишком большая область")
		return
	}

	opts := terrain.DefaultOptions(req.Seed)
	if req.Scale > 0 {
		opts.Scale = req.Scale
	}
	if len(req.Bands) > 0 {
		opts.Bands = req.Bands
	}
	gen, err := terrain.NewGenerator(opts)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	n := gen.Fill(rs.engine, id, vec.Vec2{X: req.MinX, Y: req.MinY}, vec.Vec2{X: req.MaxX, Y: req.MaxY})
	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Область поставлена в очередь",
		Data:    gin.H{"queued": n},
	})
}

func (rs *RestServer) handleSetSeed(c *gin.Context) {
	var req SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}
	rs.engine.SetGlobalSeed(*req.Seed)
	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Зерно применится в следующем кадре",
		Data:    gin.H{"seed": *req.Seed},
	})
}

func (rs *RestServer) handleClearAll(c *gin.Context) {
	rs.engine.ClearAllLayers()
	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Очистка всех слоёв поставлена в очередь",
	})
}

func (rs *RestServer) snapshotCtx(c *gin.Context) (context.Context, context.CancelFunc, bool) {
	if rs.grid == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Хранилище снимков не настроено",
		})
		return nil, nil, false
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	return ctx, cancel, true
}

func (rs *RestServer) handleSaveSnapshots(c *gin.Context) {
	ctx, cancel, ok := rs.snapshotCtx(c)
	if !ok {
		return
	}
	defer cancel()

	n, err := storage.SaveEngine(ctx, rs.grid, rs.engine)
	if err != nil {
		rs.logger.Error("Ошибка сохранения снимков: %v", err)
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка сохранения: " + err.Error(),
		})
		return
	}

	_ = rs.outboundWebhooks.SendEvent(EventSnapshotSaved, "", map[string]interface{}{
		"layers": n,
		"frame":  rs.engine.Frame(),
	})
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снимки сохранены",
		Data:    gin.H{"layers": n},
	})
}

func (rs *RestServer) handleRestoreSnapshots(c *gin.Context) {
	ctx, cancel, ok := rs.snapshotCtx(c)
	if !ok {
		return
	}
	defer cancel()

	n, err := storage.RestoreEngine(ctx, rs.grid, rs.engine)
	if err != nil {
		rs.logger.Error("Ошибка восстановления снимков: %v", err)
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка восстановления: " + err.Error(),
		})
		return
	}

	_ = rs.outboundWebhooks.SendEvent(EventSnapshotRestored, "", map[string]interface{}{
		"layers": n,
	})
	c.JSON(http.StatusAccepted, GenericResponse{
		Success: true,
		Message: "Снимки поставлены в очередь восстановления",
		Data:    gin.H{"layers": n},
	})
}

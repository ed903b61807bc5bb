package authz

import "context"

// CatalogStore extends the matrix lookup with the reference reads needed to
// summarise an actor's territorial access.
type CatalogStore interface {
	Store
	ActiveGrantsForUser(ctx context.Context, userID int64) ([]MatrixRow, error)
	ActiveMunicipios(ctx context.Context) ([]MatrixRow, error)
	ActivePermissionNames(ctx context.Context) ([]string, error)
}

// Service exposes the authorization read surface consumed by the API.
type Service struct {
	store CatalogStore
}

// NewService constructs a Service.
func NewService(store CatalogStore) *Service {
	return &Service{store: store}
}

// AccessTerritories returns the municipios the actor can operate in together
// with the permission names granted there. Administrators receive the full
// virtual matrix of every active municipio crossed with every active
// permission; nothing for them is stored in the physical table.
func (s *Service) AccessTerritories(ctx context.Context, actor Actor) ([]TerritoryAccess, error) {
	if actor.IsAdministrator() {
		munis, err := s.store.ActiveMunicipios(ctx)
		if err != nil {
			return nil, err
		}
		perms, err := s.store.ActivePermissionNames(ctx)
		if err != nil {
			return nil, err
		}
		result := make([]TerritoryAccess, 0, len(munis))
		for _, m := range munis {
			granted := make([]string, len(perms))
			copy(granted, perms)
			result = append(result, TerritoryAccess{
				MunicipioID: m.MunicipioID,
				Num:         m.Num,
				Nombre:      m.Nombre,
				Permisos:    granted,
			})
		}
		return result, nil
	}

	rows, err := s.store.ActiveGrantsForUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	index := make(map[int64]int, len(rows))
	result := make([]TerritoryAccess, 0, len(rows))
	for _, row := range rows {
		i, ok := index[row.MunicipioID]
		if !ok {
			i = len(result)
			index[row.MunicipioID] = i
			result = append(result, TerritoryAccess{
				MunicipioID: row.MunicipioID,
				Num:         row.Num,
				Nombre:      row.Nombre,
			})
		}
		result[i].Permisos = append(result[i].Permisos, row.Permission)
	}
	return result, nil
}

package calendar

const (
	defaultPageSize = 10
	maxPageSize     = 200
)

// Page описывает одну страницу элементов.
type Page[T any] struct {
	Items    []T // элементы на текущей странице
	Page     int // номер страницы (с 1)
	PageSize int // количество элементов на странице
	HasNext  bool
	HasPrev  bool
	Total    int // общее количество элементов
}

// Paginate возвращает срез items для указанной страницы и метаданные.
// page нумеруется с 1. При некорректных значениях используются дефолты.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	total := len(items)

	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}

	end := start + pageSize
	if end > total {
		end = total
	}

	pageItems := items[start:end]

	hasPrev := page > 1
	hasNext := end < total

	return Page[T]{
		Items:    pageItems,
		Page:     page,
		PageSize: pageSize,
		HasNext:  hasNext,
		HasPrev:  hasPrev,
		Total:    total,
	}
}

// MapPage преобразует элементы страницы, сохраняя метаданные.
func MapPage[T, U any](p Page[T], fn func(T) U) Page[U] {
	items := make([]U, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, fn(it))
	}
	return Page[U]{
		Items:    items,
		Page:     p.Page,
		PageSize: p.PageSize,
		HasNext:  p.HasNext,
		HasPrev:  p.HasPrev,
		Total:    p.Total,
	}
}

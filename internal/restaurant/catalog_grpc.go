package restaurant

import (
	"context"
	"errors"
	"fmt"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/money"
)

// Сервис каталога описан без сгенерированного кода: запросы и ответы —
// google.protobuf.Struct с полями в camelCase.
const (
	CatalogServiceName  = "foodorders.catalog.v1.RestaurantCatalog"
	methodGetRestaurant = "/" + CatalogServiceName + "/GetRestaurant"
	methodGetMenuItem   = "/" + CatalogServiceName + "/GetMenuItem"
)

// CatalogServer — серверная сторона gRPC-каталога.
type CatalogServer interface {
	GetRestaurant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetMenuItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var catalogServiceDesc = grpc.ServiceDesc{
	ServiceName: CatalogServiceName,
	HandlerType: (*CatalogServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRestaurant", Handler: unaryHandler(methodGetRestaurant, CatalogServer.GetRestaurant)},
		{MethodName: "GetMenuItem", Handler: unaryHandler(methodGetMenuItem, CatalogServer.GetMenuItem)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "foodorders/catalog/v1/catalog.proto",
}

type catalogMethod func(CatalogServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call catalogMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CatalogServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(CatalogServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterCatalogServer регистрирует реализацию каталога на gRPC сервере.
func RegisterCatalogServer(s grpc.ServiceRegistrar, srv CatalogServer) {
	s.RegisterService(&catalogServiceDesc, srv)
}

type catalogServer struct {
	catalog domain.RestaurantCatalog
}

// NewCatalogServer отдаёт данные catalog по gRPC.
func NewCatalogServer(catalog domain.RestaurantCatalog) CatalogServer {
	return &catalogServer{catalog: catalog}
}

func (s *catalogServer) GetRestaurant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	restaurantID := stringField(req, "restaurantId")
	if restaurantID == "" {
		return nil, status.Error(codes.InvalidArgument, "restaurantId is required")
	}

	r, err := s.catalog.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"id":       r.ID,
		"name":     r.Name,
		"ownerId":  r.OwnerID,
		"active":   r.Active,
		"currency": r.Currency,
	})
}

func (s *catalogServer) GetMenuItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	restaurantID := stringField(req, "restaurantId")
	menuItemID := stringField(req, "menuItemId")
	if restaurantID == "" || menuItemID == "" {
		return nil, status.Error(codes.InvalidArgument, "restaurantId and menuItemId are required")
	}

	item, err := s.catalog.GetMenuItem(ctx, restaurantID, menuItemID)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"id":           item.ID,
		"restaurantId": item.RestaurantID,
		"name":         item.Name,
		"price":        money.FormatMinor(item.PriceMinor),
		"available":    item.Available,
	})
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// DialCatalog открывает соединение с каталогом с клиентскими метриками gRPC.
func DialCatalog(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial restaurant catalog %s: %w", addr, err)
	}
	return conn, nil
}

// CatalogClient — клиент gRPC-каталога, реализующий domain.RestaurantCatalog.
type CatalogClient struct {
	conn grpc.ClientConnInterface
}

// NewCatalogClient создаёт клиента поверх готового соединения.
func NewCatalogClient(conn grpc.ClientConnInterface) *CatalogClient {
	return &CatalogClient{conn: conn}
}

func (c *CatalogClient) GetRestaurant(ctx context.Context, restaurantID string) (domain.Restaurant, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"restaurantId": restaurantID})
	if err != nil {
		return domain.Restaurant{}, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetRestaurant, req, resp); err != nil {
		return domain.Restaurant{}, fromStatus(err, domain.ErrRestaurantNotFound)
	}

	return domain.Restaurant{
		ID:       stringField(resp, "id"),
		Name:     stringField(resp, "name"),
		OwnerID:  stringField(resp, "ownerId"),
		Active:   boolField(resp, "active"),
		Currency: stringField(resp, "currency"),
	}, nil
}

func (c *CatalogClient) GetMenuItem(ctx context.Context, restaurantID, menuItemID string) (domain.MenuItem, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"restaurantId": restaurantID,
		"menuItemId":   menuItemID,
	})
	if err != nil {
		return domain.MenuItem{}, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetMenuItem, req, resp); err != nil {
		return domain.MenuItem{}, fromStatus(err, domain.ErrMenuItemNotFound)
	}

	// Битая цена — сбой каталога, а не ошибка запроса.
	rawPrice := stringField(resp, "price")
	price, err := money.ParseMinor(rawPrice)
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("%w: menu item %s price %q: %v", domain.ErrCatalogMalformed, menuItemID, rawPrice, err)
	}

	return domain.MenuItem{
		ID:           stringField(resp, "id"),
		RestaurantID: stringField(resp, "restaurantId"),
		Name:         stringField(resp, "name"),
		PriceMinor:   price,
		Available:    boolField(resp, "available"),
	}, nil
}

// fromStatus переводит gRPC-статус в доменную ошибку.
// Всё, что не NotFound/InvalidArgument, считается временной недоступностью.
func fromStatus(err error, notFound error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", notFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrValidation, st.Message())
	case codes.Canceled:
		return fmt.Errorf("restaurant catalog: %w", context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("restaurant catalog: %w", context.DeadlineExceeded)
	default:
		return fmt.Errorf("restaurant catalog %s: %s", st.Code(), st.Message())
	}
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	if s == nil {
		return false
	}
	return s.GetFields()[key].GetBoolValue()
}

var _ domain.RestaurantCatalog = (*CatalogClient)(nil)

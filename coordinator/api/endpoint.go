package api

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/kit/endpoint"

	"github.com/Abhishek-yadav04/agis-flow-test/coordinator"
	"github.com/Abhishek-yadav04/agis-flow-test/registry"
)

func makeStatusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		return svc.Snapshot(), nil
	}
}

func makeStartEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		// Starting an already-running session reports the current state.
		if err := svc.Start(ctx); err != nil && !errors.Is(err, coordinator.ErrSessionActive) {
			return nil, err
		}

		return sessionStateRes{TrainingActive: true}, nil
	}
}

func makeStopEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		if err := svc.Stop(ctx); err != nil {
			return nil, err
		}

		return sessionStateRes{TrainingActive: false}, nil
	}
}

func makeListClientsEndpoint(reg *registry.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(listClientsReq)

		return reg.List(ctx, req.Offset, req.Limit)
	}
}

func makeRegisterClientEndpoint(reg *registry.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(registerClientReq)
		if err := req.Validate(); err != nil {
			return nil, err
		}

		client, err := reg.Register(ctx, req.ClientID, req.DatasetSize)
		if err != nil {
			return nil, err
		}

		return registerClientRes{Client: client}, nil
	}
}

func makeHeartbeatEndpoint(reg *registry.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(heartbeatReq)
		if err := req.Validate(); err != nil {
			return nil, err
		}

		if err := reg.Heartbeat(ctx, req.ClientID, time.Now()); err != nil {
			return nil, err
		}

		return reg.Get(ctx, req.ClientID)
	}
}

func makeSubmitUpdateEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(submitUpdateReq)
		if err := req.Validate(); err != nil {
			return nil, err
		}

		if err := svc.SubmitUpdate(ctx, req.toUpdate()); err != nil {
			return nil, err
		}

		return acceptedRes{RoundID: req.RoundID, ClientID: req.ClientID, Accepted: true}, nil
	}
}

func makeGetModelEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getModelReq)

		model, err := svc.Model(ctx, req.Version)
		if err != nil {
			return nil, err
		}

		return modelRes{Version: model.Version, Parameters: model.Parameters, CreatedAt: model.CreatedAt}, nil
	}
}

func makeListRoundsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(listRoundsReq)

		rounds, err := svc.Rounds(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		if rounds == nil {
			rounds = []coordinator.Round{}
		}

		return rounds, nil
	}
}

package domain

// SeedEquipment returns the starter fleet materialized into an empty store.
// Task urgencies are derived from each machine's hours so seeded records
// satisfy the same invariant as every later write.
func SeedEquipment() []Equipment {
	fleet := []Equipment{
		{
			ID:           "eq-1",
			Name:         "Kubota L3301",
			Type:         EquipmentTractor,
			Model:        "L3301HST",
			SerialNumber: "KUB-7721A",
			PurchaseDate: "2022-03-15",
			CurrentHours: 145.5,
			Status:       StatusOperational,
			Image:        "https://images.unsplash.com/photo-1594913785162-e6785b493bd2?auto=format&fit=crop&q=80&w=400",
			Tasks: []MaintenanceTask{
				{ID: "task-1", Title: "Engine Oil Change", IntervalHours: Float(50), LastPerformedHours: Float(100), NextDueHours: Float(150)},
				{ID: "task-2", Title: "Grease Chassis Fittings", IntervalHours: Float(10), LastPerformedHours: Float(140), NextDueHours: Float(150)},
			},
		},
		{
			ID:           "eq-2",
			Name:         "Stihl MS 261",
			Type:         EquipmentChainsaw,
			Model:        "MS 261 C-M",
			SerialNumber: "STI-99021",
			PurchaseDate: "2023-01-10",
			CurrentHours: 22.0,
			Status:       StatusOperational,
			Image:        "https://images.unsplash.com/photo-1622348735048-ef0021653f54?auto=format&fit=crop&q=80&w=400",
			Tasks: []MaintenanceTask{
				{ID: "task-3", Title: "Sharpen Chain", IntervalHours: Float(2), LastPerformedHours: Float(21), NextDueHours: Float(23)},
				{ID: "task-4", Title: "Replace Air Filter", IntervalHours: Float(50), LastPerformedHours: Float(0), NextDueHours: Float(50)},
			},
		},
		{
			ID:           "eq-3",
			Name:         "Bad Boy ZT Elite",
			Type:         EquipmentMower,
			Model:        `ZT Elite 60"`,
			SerialNumber: "BB-6600",
			PurchaseDate: "2021-05-20",
			CurrentHours: 312.8,
			Status:       StatusMaintenance,
			Image:        "https://images.unsplash.com/photo-1592910129841-3b8d41e7d82b?auto=format&fit=crop&q=80&w=400",
			Tasks: []MaintenanceTask{
				{ID: "task-5", Title: "Hydraulic Fluid Service", IntervalHours: Float(300), LastPerformedHours: Float(0), NextDueHours: Float(300)},
			},
		},
	}
	for i := range fleet {
		fleet[i] = fleet[i].Normalize()
		fleet[i].Tasks = RecomputeUrgency(fleet[i].Tasks, fleet[i].CurrentHours)
	}
	return fleet
}
